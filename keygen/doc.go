// Package keygen implements the KeyGenerator contract: producing WireGuard
// keypairs for newly provisioned peers.
//
// Two implementations are provided. Native derives keys in process via
// wgtypes and is the preferred generator: no subprocess spawn cost, no
// command-line trust boundary, no external dependency. WGTool shells out to
// the wg(8) binary for deployments that mandate tool compatibility; it
// bounds concurrent invocations with a fixed-size pool and wraps every call
// in a deadline so a hanging binary cannot stall unrelated requests.
package keygen
