// Package tools adapts blockchain operations into credential-bound calls
// and exposes them to the model as JSON-schema tools.
package tools
