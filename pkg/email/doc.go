// Package email sends transactional email through Postmark or Mailjet, or
// writes it to disk in development.
//
// New picks the Sender from Config.Provider. Bodies are usually rendered
// from templ components with templates.Render.
package email
