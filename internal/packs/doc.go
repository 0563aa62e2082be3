// Package packs provides the tool system the assistant offers to the model.
//
// # Overview
//
// A Tool is an in-process capability with a name, a description and a
// parameter schema. Tools are grouped into packs for registration, but
// names are global: there is one tool per name.
//
// # Architecture
//
//   - Registry: name -> tool map; announces each tool to the model backend
//   - Router: dispatches function calls by name with a per-call timeout
//   - Built-in packs: see internal/builtins
//
// # Registration
//
// Registering a name that already exists replaces the old tool and logs a
// warning; the newest registration wins. RegisterUnique refuses instead.
// Every registration is announced, so the model always sees the latest
// descriptor.
//
// # Dispatch
//
// Router.Dispatch returns ErrToolNotFound for unknown names. The engine
// treats that as "skip this call", since a tool can disappear between being
// offered and being called. Any other failure is a *FunctionError.
//
// The registry lock is held only while reading or writing the map. A tool
// reference is copied out before it is called, so a slow tool never blocks
// registration or other calls.
//
// # Usage
//
//	registry := packs.NewRegistry(llmBackend, logger)
//	router := packs.NewRouter(packs.RouterConfig{Registry: registry, Logger: logger})
//
//	registry.RegisterPack(ctx, builtins.InfoPack(buildInfo, startedAt))
//	result, err := router.Dispatch(ctx, call)
package packs
