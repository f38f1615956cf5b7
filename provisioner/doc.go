// Package provisioner turns an approved access request into durable state
// plus a delivered credential.
//
// The Coordinator owns the provisioning saga: generate a keypair, persist
// the provisioned record, render the client artifact. Each step past the
// first has a compensating action; on failure the remaining steps are
// aborted and the compensations of the completed steps run synchronously
// in reverse order, so a retry starts from a clean slate. Compensations
// are idempotent and best-effort: a compensation failure is logged, never
// retried.
//
// The Service sits above the Coordinator and implements the request
// events arriving from the messaging front-end: registration, the admin
// decision, the config request, and peer removal. It owns the dual
// notification policy: the requester always receives a terminal response,
// and the administrator receives a detailed diagnostic on failure.
package provisioner
