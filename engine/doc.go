// Package engine runs managed images on wazero and connects their imports
// to the internal call table of a bridge.
//
// # Architecture
//
//	Engine   - owns the wazero runtime and compiles images
//	Image    - a compiled image; a bridge initializer that builds the host
//	           module exporting every internal call the image imports
//	Instance - a running image whose exports can be called
//
// # Load Flow
//
//  1. Engine.LoadImage compiles the image and checks that every import
//     lives in the manifest namespace
//  2. The image is added to a bridge with AddInitializer
//  3. Bridge.Load calls Image.Initialize, which compiles a trampoline per
//     import and instantiates the host module. Imports nobody registered
//     are reported together, grouped by class
//  4. Image.Instantiate creates instances; Instance.Call invokes exports
//
// # Calling Convention
//
// Primitive values travel as flat wasm values. A struct parameter travels
// as the i32 address of its bytes in linear memory. A struct result is
// written to a return area whose address is passed as a leading i32
// parameter. For calls from the host, struct arguments and return areas
// live in a scratch region reserved when the instance is created.
//
// # Messages and Traps
//
// An image may import manifest.MessageImport to report text at a managed
// level (info, warning, error). The engine serves that import itself and
// delivers messages at or above Config.MessageLevel to Config.OnMessage,
// or to the package logger at the matching zap level. A failing managed
// method is reported to Config.OnTrap before Call returns its error.
//
// # Reload
//
// Image.Unload closes the host module and every instance of the
// generation. An Instance kept across a reload reports StaleSlot.
//
// # Thread Safety
//
// Engine and Image are safe for concurrent use. An Instance belongs to one
// goroutine at a time. A native callee may call back into the instance
// that invoked it; the nested call uses scratch space above its caller's.
package engine
