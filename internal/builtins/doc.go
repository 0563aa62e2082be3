// Package builtins provides the tools the assistant ships with.
//
// # Tools
//
// Info pack (builtin:info), always registered:
//
//   - self_info: version, commit and build time of the binary
//   - local_info: current time and bot start time in the configured zone
//
// Optional tools, enabled in the tools config section:
//
//   - image_generator: generates an image through the OpenAI Images API and
//     returns it as an attachment
//   - get_illust_url: picks up to four random rows from an illusts table
//
// # Error Handling
//
// Malformed arguments are Serialization function errors. The image tool
// reports API failures to the model as {"error": "..."} so it can explain
// the failure; the illust tool returns an External error when the database
// fails.
package builtins
