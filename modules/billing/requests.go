package billing

import "time"

type signupRequest struct {
	Email             string `json:"email"`
	Name              string `json:"name"`
	Tier              string `json:"tier"`
	BillingInterval   string `json:"billingInterval"`
	PaymentMethodRef  string `json:"paymentMethodRef"`
	TermsAccepted     bool   `json:"termsAccepted"`
	DeviceFingerprint string `json:"deviceFingerprint"`
}

type signupResponse struct {
	SubscriberID         string    `json:"subscriberId"`
	TrialEndsAt          time.Time `json:"trialEndsAt"`
	AccessToken          string    `json:"accessToken,omitempty"`
	AccessTokenExpiresAt time.Time `json:"accessTokenExpiresAt,omitzero"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type checkoutRequest struct {
	Email           string `json:"email"`
	Tier            string `json:"tier"`
	BillingInterval string `json:"billingInterval"`
}

type urlResponse struct {
	URL string `json:"url"`
}

type eventReceipt struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome,omitempty"`
}
