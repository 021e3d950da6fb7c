// Package bridge runs the lifecycle that connects a managed image to its
// native internal calls.
//
// A Bridge starts Unloaded. Begin opens the Registering phase, in which the
// host registers internal calls, declares struct layouts and attributes and
// adds initializers. Load seals the call table and moves to Resolving: every
// initializer binds what it needs through a Resolver, layouts are checked for
// agreement and attributes are frozen. If anything failed the bridge ends in
// LoadFailed and Load returns a single *errors.LoadError listing every
// failure. Otherwise it is Ready.
//
// A Slot is a typed, write-once cache of one internal call, bound during
// Resolving. Slot.Call holds the reload barrier for the duration of the call,
// so Unload and Reload wait for in-flight calls to return before tearing
// down the table. A slot bound in an earlier generation reports StaleSlot
// instead of calling into a torn-down table.
package bridge
