// Package gen builds Go source for request pipelines from a graph of frames
// and hands it to a compile strategy.
//
// # Architecture
//
// Generation runs once per configuration:
//
//	GeneratedAssembly.AddType (one per operation)
//	        ↓
//	GeneratedMethod.Add (contributors append frames to a wish-list)
//	        ↓
//	Arrange (resolve variables, place producers before consumers, settle async state)
//	        ↓
//	Render (jennifer files, shared import names, x/tools formatting)
//	        ↓
//	CompileStrategy.Compile (in-memory interpreter or Go plugin)
//	        ↓
//	bind + CreateInstance (one reflective factory call per type)
//
// After activation a pipeline is a plain Go func. Nothing in this package
// runs on the request path.
//
// # Key Types
//
//   - Variable: a typed handle to a value in generated code
//   - Frame: a statement or block that consumes and creates variables
//   - MethodVariables: the resolution context passed to Frame.Resolve
//   - VariableSource: provides variables no frame creates
//   - GeneratedMethod: the single execution method of a type
//   - GeneratedType: a struct with injected fields and a factory
//   - GeneratedAssembly: all types of one configuration
//   - CompileStrategy: turns source into a Module
//
// # Generated Shape
//
// Each type renders as a struct holding its injected fields, a factory
// New<Type>(fields...) returning the bound execution method as a func, and
// the method itself. Methods returning *task.Task run inline and return a
// completed task unless a frame awaits, in which case the body runs inside
// task.Run.
//
// # Error Handling
//
// Build errors are typed and match sentinels with errors.Is:
//
//	if errors.Is(err, gen.ErrResolution) {
//	    // a frame needs a variable nothing provides, or several do
//	}
//
// Failures from several types are joined, so one startup reports all of
// them.
package gen
