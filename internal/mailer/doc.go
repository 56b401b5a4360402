// Package mailer is the email sender collaborator. It delivers signed
// documents over SMTP with github.com/wneessen/go-mail.
//
// Subject and body are text/template templates over TemplateData. The body
// is markdown: it is sent as the text/plain part and rendered to the
// text/html alternative with goldmark. The signed PDF is attached under its
// own file name.
//
// Settings come from the email config section and can be replaced at runtime
// through the configure-email protocol action. The password is write-only.
package mailer
