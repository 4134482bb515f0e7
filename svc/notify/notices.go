package notify

import (
	"fmt"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/dmitrymomot/hearth/svc/billing"
)

// view carries what the notice copy needs.
type view struct {
	product   string
	name      string
	tier      string
	trialEnds string
	graceEnds string
	nextBill  string
	portalURL string
	support   string
}

var titleCase = cases.Title(language.English)

func newView(n billing.Notice, b Brand) view {
	name := n.Name
	if name == "" {
		name = "there"
	}
	return view{
		product:   b.Product,
		name:      name,
		tier:      titleCase.String(n.Tier),
		trialEnds: formatDate(n.TrialEndsAt),
		graceEnds: formatDate(n.GraceEndsAt),
		nextBill:  formatDate(n.NextBilling),
		portalURL: b.AccountURL,
		support:   b.SupportEmail,
	}
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "soon"
	}
	return t.UTC().Format("Monday, 2 January 2006")
}

type notice struct {
	subject func(v view) string
	body    func(v view) content
}

var notices = map[billing.NoticeKind]notice{
	billing.NoticeTrialWelcome: {
		subject: func(v view) string { return fmt.Sprintf("Welcome to %s, your trial has started", v.product) },
		body: func(v view) content {
			return content{
				Heading: fmt.Sprintf("Hi %s, welcome to %s", v.name, v.product),
				Paragraphs: []string{
					fmt.Sprintf("Your %s trial is active until %s. You will not be charged before then.", v.tier, v.trialEnds),
					"We will remind you a few days before the trial ends. You can cancel at any time from your account.",
				},
				ActionText: "Manage your account",
				ActionURL:  v.portalURL,
			}
		},
	},
	billing.NoticePreChargeReminder: {
		subject: func(v view) string { return fmt.Sprintf("Your %s trial ends on %s", v.product, v.trialEnds) },
		body: func(v view) content {
			return content{
				Heading: "Your trial is ending soon",
				Paragraphs: []string{
					fmt.Sprintf("Hi %s, your free trial ends on %s.", v.name, v.trialEnds),
					fmt.Sprintf("Your card will then be charged for the %s plan. If you do not want to continue, cancel before that date and nothing will be charged.", v.tier),
				},
				ActionText: "Review your plan",
				ActionURL:  v.portalURL,
			}
		},
	},
	billing.NoticePaymentFailed: {
		subject: func(v view) string { return "Action needed: your payment did not go through" },
		body: func(v view) content {
			return content{
				Heading: "We could not process your payment",
				Paragraphs: []string{
					fmt.Sprintf("Hi %s, your latest %s payment failed.", v.name, v.product),
					fmt.Sprintf("Please update your payment method by %s to keep your service running.", v.graceEnds),
				},
				ActionText: "Update payment method",
				ActionURL:  v.portalURL,
			}
		},
	},
	billing.NoticeSubscriptionActive: {
		subject: func(v view) string { return fmt.Sprintf("Your %s subscription is active", v.tier) },
		body: func(v view) content {
			return content{
				Heading: "Thanks, you're all set",
				Paragraphs: []string{
					fmt.Sprintf("Hi %s, your %s subscription to %s is active.", v.name, v.tier, v.product),
					fmt.Sprintf("Your next billing date is %s.", v.nextBill),
				},
				ActionText: "View billing details",
				ActionURL:  v.portalURL,
			}
		},
	},
	billing.NoticeCancellationConfirmed: {
		subject: func(v view) string { return fmt.Sprintf("Your %s subscription has been canceled", v.product) },
		body: func(v view) content {
			return content{
				Heading: "Your subscription is canceled",
				Paragraphs: []string{
					fmt.Sprintf("Hi %s, we have canceled your %s subscription. You will not be charged again.", v.name, v.tier),
					"We are sorry to see you go. You are welcome back any time.",
				},
			}
		},
	},
	billing.NoticeAccountSuspended: {
		subject: func(v view) string { return fmt.Sprintf("Your %s account is suspended", v.product) },
		body: func(v view) content {
			return content{
				Heading: "Your account is suspended",
				Paragraphs: []string{
					fmt.Sprintf("Hi %s, we still could not collect your payment after the grace period, so your %s service is paused.", v.name, v.product),
					"Update your payment method to restore service right away.",
				},
				ActionText: "Update payment method",
				ActionURL:  v.portalURL,
			}
		},
	},
}
