/**
 * @description
 * Reminder message content for every escalation level and channel. Templates
 * are parsed once at startup with text/template and rendered over a flat
 * data struct built from the invoice, the freelancer, and the interest
 * breakdown. The tone steps up with the level: a friendly nudge at gentle,
 * statutory interest language at firm, a formal letter before action at
 * final, and a referral notice at agency.
 */
package app

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/recoup/collections-engine/internal/domain"
)

// smsMaxRunes caps SMS bodies at two concatenated GSM segments.
const smsMaxRunes = 320

// TemplateData is the flat view rendered into every message.
type TemplateData struct {
	ClientName       string
	FreelancerName   string
	BusinessName     string
	InvoiceReference string
	AmountDue        string
	DaysOverdue      int
	InterestAccrued  string
	Compensation     string
	TotalDue         string
	PaymentLink      string
	DueDate          string
}

var messageTemplates = template.Must(template.New("collections").Parse(`
{{define "gentle_email_subject"}}Friendly reminder: invoice {{.InvoiceReference}} is past due{{end}}

{{define "gentle_email"}}Hi {{.ClientName}},

Just a friendly reminder that invoice {{.InvoiceReference}} for {{.AmountDue}} was due on {{.DueDate}} and hasn't been paid yet.

If you've already sent payment, please ignore this message. Otherwise you can settle it in a couple of minutes here:

{{.PaymentLink}}

Thanks,
{{.FreelancerName}}
{{.BusinessName}}{{end}}

{{define "gentle_sms"}}{{.BusinessName}}: a friendly reminder that invoice {{.InvoiceReference}} for {{.AmountDue}} was due on {{.DueDate}}. Pay in minutes: {{.PaymentLink}}{{end}}

{{define "gentle_letter"}}{{.ClientName}}

Re: invoice {{.InvoiceReference}}

Dear {{.ClientName}},

This is a reminder that invoice {{.InvoiceReference}} for {{.AmountDue}} was due for payment on {{.DueDate}} and remains outstanding.

If payment has already been made, please accept our thanks and disregard this letter. Otherwise, payment can be made at {{.PaymentLink}} or by bank transfer using the details on the invoice.

Yours sincerely,

{{.FreelancerName}}
{{.BusinessName}}{{end}}

{{define "firm_email_subject"}}Payment required: invoice {{.InvoiceReference}} is {{.DaysOverdue}} days overdue{{end}}

{{define "firm_email"}}Dear {{.ClientName}},

Invoice {{.InvoiceReference}} for {{.AmountDue}} is now {{.DaysOverdue}} days overdue.

Under the Late Payment of Commercial Debts (Interest) Act 1998, statutory interest is accruing on this debt. Interest to date: {{.InterestAccrued}}. Fixed recovery compensation of {{.Compensation}} also applies, bringing the total now due to {{.TotalDue}}.

Please arrange payment immediately:

{{.PaymentLink}}

If payment has already been made, reply with the date and reference so it can be traced.

Regards,
{{.FreelancerName}}
{{.BusinessName}}{{end}}

{{define "firm_sms"}}{{.BusinessName}}: invoice {{.InvoiceReference}} for {{.AmountDue}} is {{.DaysOverdue}} days overdue and statutory interest is accruing. Pay now: {{.PaymentLink}}{{end}}

{{define "firm_letter"}}{{.ClientName}}

Re: overdue invoice {{.InvoiceReference}}

Dear {{.ClientName}},

Invoice {{.InvoiceReference}} for {{.AmountDue}} is now {{.DaysOverdue}} days past its due date of {{.DueDate}}.

Under the Late Payment of Commercial Debts (Interest) Act 1998, statutory interest of {{.InterestAccrued}} has accrued to date and fixed recovery compensation of {{.Compensation}} applies, bringing the total now due to {{.TotalDue}}.

Please arrange payment without further delay at {{.PaymentLink}} or by bank transfer using the details on the invoice. If payment has already been made, please send the date and reference so it can be traced.

Yours sincerely,

{{.FreelancerName}}
{{.BusinessName}}{{end}}

{{define "final_email_subject"}}FINAL NOTICE: invoice {{.InvoiceReference}} - action required within 7 days{{end}}

{{define "final_email"}}Dear {{.ClientName}},

FINAL NOTICE

Despite previous reminders, invoice {{.InvoiceReference}} remains unpaid {{.DaysOverdue}} days after its due date of {{.DueDate}}.

The amount now due is {{.TotalDue}}, made up of the invoice amount of {{.AmountDue}}, statutory interest of {{.InterestAccrued}} under the Late Payment of Commercial Debts (Interest) Act 1998, and fixed recovery compensation of {{.Compensation}}.

Unless payment is received within 7 days, the matter will be escalated without further warning. This may include County Court proceedings or referral to a debt collection agency, either of which can affect your credit record and add costs to the debt.

Pay now:

{{.PaymentLink}}

{{.FreelancerName}}
{{.BusinessName}}{{end}}

{{define "final_sms"}}FINAL NOTICE from {{.BusinessName}}: invoice {{.InvoiceReference}}. {{.TotalDue}} now due including statutory interest. Pay within 7 days to avoid court action: {{.PaymentLink}}{{end}}

{{define "final_letter"}}LETTER BEFORE ACTION

{{.ClientName}}

Re: unpaid invoice {{.InvoiceReference}}

Dear {{.ClientName}},

Despite repeated reminders, invoice {{.InvoiceReference}} dated as due on {{.DueDate}} remains unpaid {{.DaysOverdue}} days later.

The sum now owing is {{.TotalDue}}:

  Invoice amount: {{.AmountDue}}
  Statutory interest (Late Payment of Commercial Debts (Interest) Act 1998): {{.InterestAccrued}}
  Fixed recovery compensation: {{.Compensation}}

Unless payment in full is received within 7 days of the date of this letter, County Court proceedings will be issued against you without further notice. Court fees and further interest will be added to the claim, and a judgment may affect your ability to obtain credit.

Payment can be made at {{.PaymentLink}} or by bank transfer using the details on the invoice.

Yours sincerely,

{{.FreelancerName}}
{{.BusinessName}}{{end}}

{{define "final_voice"}}Hello. This is an automated message from {{.BusinessName}} regarding unpaid invoice {{.InvoiceReference}}. The invoice is now {{.DaysOverdue}} days overdue and the total due, including statutory late payment interest, is {{.TotalDue}}. Unless payment is received within seven days, the matter will be escalated, which may include court proceedings. A payment link has been sent to you by email and text message. Thank you.{{end}}

{{define "agency_email_subject"}}Invoice {{.InvoiceReference}} has been referred for collection{{end}}

{{define "agency_email"}}Dear {{.ClientName}},

Invoice {{.InvoiceReference}} has remained unpaid for {{.DaysOverdue}} days despite repeated reminders and a formal final notice.

The debt of {{.TotalDue}} (including statutory interest and compensation) has now been referred to a debt collection agency, who will contact you directly. Collection costs may be added to the amount owed.

You can still stop the process by paying in full now:

{{.PaymentLink}}

{{.FreelancerName}}
{{.BusinessName}}{{end}}

{{define "agency_sms"}}{{.BusinessName}}: unpaid invoice {{.InvoiceReference}} ({{.TotalDue}} due) has been referred to a debt collection agency. Pay in full now to stop the process: {{.PaymentLink}}{{end}}

{{define "agency_voice"}}Hello. This is an automated message from {{.BusinessName}} regarding unpaid invoice {{.InvoiceReference}}. As the invoice has remained unpaid for {{.DaysOverdue}} days, the debt of {{.TotalDue}} has been referred to a debt collection agency, who will contact you directly. Paying in full now will stop the process. A payment link has been sent to you by email. Thank you.{{end}}

{{define "agency_letter"}}NOTICE OF REFERRAL TO DEBT COLLECTION AGENCY

{{.ClientName}}

Re: unpaid invoice {{.InvoiceReference}}

Dear {{.ClientName}},

Invoice {{.InvoiceReference}} remains unpaid {{.DaysOverdue}} days after its due date, despite reminders and a letter before action.

The debt of {{.TotalDue}} has been passed to a debt collection agency acting on behalf of {{.BusinessName}}. The agency will contact you to arrange payment, and their costs may be added to the sum owed.

Immediate payment in full at {{.PaymentLink}} will close the matter.

Yours sincerely,

{{.FreelancerName}}
{{.BusinessName}}{{end}}
`))

// TemplateKey names the template for a level and channel pair, and is the
// key recorded on collection_attempts rows.
func TemplateKey(level domain.EscalationLevel, channel domain.Channel) string {
	return fmt.Sprintf("%s_%s", level, channel)
}

func renderTemplate(key string, data TemplateData) (string, error) {
	var sb strings.Builder
	if err := messageTemplates.ExecuteTemplate(&sb, key, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", key, err)
	}
	return strings.TrimSpace(sb.String()), nil
}

// RenderEmail returns the subject and body for a level's email.
func RenderEmail(level domain.EscalationLevel, data TemplateData) (subject, body string, err error) {
	subject, err = renderTemplate(TemplateKey(level, domain.ChannelEmail)+"_subject", data)
	if err != nil {
		return "", "", err
	}
	body, err = renderTemplate(TemplateKey(level, domain.ChannelEmail), data)
	if err != nil {
		return "", "", err
	}
	return subject, body, nil
}

// RenderSMS returns the SMS body for a level, truncated to the two-segment
// cap if a long reference or link pushes it over.
func RenderSMS(level domain.EscalationLevel, data TemplateData) (string, error) {
	body, err := renderTemplate(TemplateKey(level, domain.ChannelSMS), data)
	if err != nil {
		return "", err
	}
	runes := []rune(body)
	if len(runes) > smsMaxRunes {
		body = string(runes[:smsMaxRunes-3]) + "..."
	}
	return body, nil
}

// RenderLetter returns the plain-text letter body for a level.
func RenderLetter(level domain.EscalationLevel, data TemplateData) (string, error) {
	return renderTemplate(TemplateKey(level, domain.ChannelLetter), data)
}

// RenderLetterHTML wraps the letter body in the minimal HTML document the
// print provider expects.
func RenderLetterHTML(level domain.EscalationLevel, data TemplateData) (string, error) {
	body, err := RenderLetter(level, data)
	if err != nil {
		return "", err
	}
	escaped := strings.ReplaceAll(body, "&", "&amp;")
	escaped = strings.ReplaceAll(escaped, "<", "&lt;")
	escaped = strings.ReplaceAll(escaped, ">", "&gt;")
	escaped = strings.ReplaceAll(escaped, "\n", "<br>")
	return "<html><body style=\"font-family: serif; font-size: 12pt; margin: 54pt;\">" + escaped + "</body></html>", nil
}

// RenderVoiceScript returns the spoken script for the automated call,
// wrapped in the TwiML the telephony provider executes.
func RenderVoiceScript(level domain.EscalationLevel, data TemplateData) (string, error) {
	script, err := renderTemplate(TemplateKey(level, domain.ChannelVoice), data)
	if err != nil {
		return "", err
	}
	escaped := strings.ReplaceAll(script, "&", "&amp;")
	escaped = strings.ReplaceAll(escaped, "<", "&lt;")
	escaped = strings.ReplaceAll(escaped, ">", "&gt;")
	return "<Response><Say voice=\"alice\" language=\"en-GB\">" + escaped + "</Say></Response>", nil
}

// FormatPence renders pence as a pound amount, e.g. 123456 -> £1,234.56.
func FormatPence(pence int64) string {
	sign := ""
	if pence < 0 {
		sign = "-"
		pence = -pence
	}
	pounds := pence / 100
	remainder := pence % 100

	digits := fmt.Sprintf("%d", pounds)
	var grouped strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(d)
	}
	return fmt.Sprintf("%s£%s.%02d", sign, grouped.String(), remainder)
}

// FormatDueDate renders a due date the way the messages read it out, e.g.
// "2 January 2026".
func FormatDueDate(dueDate time.Time) string {
	return dueDate.UTC().Format("2 January 2006")
}
