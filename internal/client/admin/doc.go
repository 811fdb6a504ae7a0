// Package admin is the operator-side client of the LeaseAdmin gRPC API.
// It keeps the access token between invocations in a private file and
// attaches it to every call.
package admin
