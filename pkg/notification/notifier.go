package notification

// NotificationSystem represents a delivery channel (e.g., email).
type NotificationSystem string

// NoticeType identifies a kind of notice sent to an account holder.
type NoticeType string

const (
	EmailSystem NotificationSystem = "email"

	EmailOTPNotice      NoticeType = "email_otp"
	PasswordResetNotice NoticeType = "password_reset"
)

// NoticeTemplate holds the subject and body templates for a notice.
// Text and Html are Go templates rendered against NotificationData.Data.
type NoticeTemplate struct {
	Subject string
	Text    string
	Html    string
}

// NotificationData carries the recipient and template data for one notice.
type NotificationData struct {
	To   string            // Recipient identifier (e.g., email address)
	Data map[string]string // Template data (e.g., "Code", "ResetURL")
}

// Notifier delivers a rendered notice over one delivery channel.
type Notifier interface {
	Send(noticeType NoticeType, notification NotificationData, template NoticeTemplate) error
}
