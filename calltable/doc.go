// Package calltable maps internal call identifiers to native functions.
//
// An identifier is the managed side's fully qualified member name, such as
// "Example.Managed.ExampleClass.TestInternalCall". The host registers one
// function per identifier while the bridge is registering. The table is
// then sealed for the resolve phase and reset, with a new generation
// number, when the image unloads.
package calltable
