package email

// Provider names accepted by EMAIL_PROVIDER.
const (
	ProviderPostmark = "postmark"
	ProviderMailjet  = "mailjet"
	ProviderDev      = "dev"
)

// Config selects and configures the outbound email provider.
// Only the credentials of the selected provider are required.
type Config struct {
	Provider             string `env:"EMAIL_PROVIDER" envDefault:"dev"`
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	MailjetPublicKey     string `env:"MAILJET_PUBLIC_KEY"`
	MailjetPrivateKey    string `env:"MAILJET_PRIVATE_KEY"`
	SenderEmail          string `env:"SENDER_EMAIL,required"`
	SupportEmail         string `env:"SUPPORT_EMAIL,required"`
	DevOutputDir         string `env:"EMAIL_DEV_DIR" envDefault:"./tmp/emails"`
}
