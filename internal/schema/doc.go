// Package schema describes the shape of tool parameters and structured
// assistant replies, and compiles those descriptions into JSON schema.
//
// # Descriptors
//
// A Descriptor is a small recursive tree: scalar leaves (integer, float,
// boolean, string) and object nodes holding ordered fields. Descriptors are
// built once, usually when a tool is constructed, and never mutated.
//
//	params := schema.Object("params", "get_illust_url parameters",
//	    schema.Integer("count", "how many illustrations to return"),
//	)
//
// # Conversion
//
// Convert produces a *jsonschema.Schema. Objects are closed: every property
// is required and additionalProperties is false, which is what strict
// function calling and structured output expect. Required names are sorted
// so the output is deterministic.
//
// Wire returns the same schema as a map[string]any for SDKs that take an
// untyped JSON object.
package schema
