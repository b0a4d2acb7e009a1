package constants

// Static route constants
const (
	APIRoute               = "/api"
	APIV1Route             = "/api/v1"
	GenerationWebhookRoute = "/api/v1/webhooks/generation"
	// Webhook path without the version prefix for router group registration
	WebhookPath = "/webhooks/generation"
)
