package billing

// Config holds the redirect targets of hosted processor pages and the
// inbound event size limit.
type Config struct {
	CheckoutSuccessURL string `env:"CHECKOUT_SUCCESS_URL" envDefault:"http://localhost:8080/welcome"`
	CheckoutCancelURL  string `env:"CHECKOUT_CANCEL_URL" envDefault:"http://localhost:8080/pricing"`
	PortalReturnURL    string `env:"PORTAL_RETURN_URL" envDefault:"http://localhost:8080/account"`
	MaxEventBytes      int64  `env:"EVENT_MAX_BYTES" envDefault:"65536"`
}
