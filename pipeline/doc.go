// Package pipeline builds per-operation executors on top of the compiler.
//
// Operations are registered in a DataModel together with their handlers.
// At Build time every middleware that matches an operation contributes
// frames to the operation's generated type, the handler call is appended
// last, and the whole assembly is compiled once. Requests then run the
// compiled code directly:
//
//	exec, err := pipeline.NewBuilder().
//	    SetApplicationName("orders").
//	    WithOperation(pipeline.OperationFor[*CreateOrder]("CreateOrder").HTTP("POST", "/orders")).
//	    WithHandler("CreateOrder", &CreateOrderHandler{}).
//	    Use(pipeline.LoggingMiddleware(), pipeline.ValidationMiddleware()).
//	    Build(ctx)
//	out, err := exec.ExecuteInput(ctx, &CreateOrder{...})
//
// A handler is any value with a Handle or HandleAsync method. Parameters of
// that method are resolved by type: the context, the OperationContext, the
// operation input and any service registered in the container.
//
// Commands may answer with a *ResourceEvent. With ResourceEventMiddleware
// the event's self query is executed to fill Data, and its route, filled by
// a LinkGenerator, becomes Href.
package pipeline
