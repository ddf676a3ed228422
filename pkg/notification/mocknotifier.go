package notification

// MockNotifier records notices instead of delivering them. Intended for tests.
type MockNotifier struct {
	SentNotices       []NoticeType
	SentNotifications []NotificationData
}

func (m *MockNotifier) Send(noticeType NoticeType, notification NotificationData, template NoticeTemplate) error {
	m.SentNotices = append(m.SentNotices, noticeType)
	m.SentNotifications = append(m.SentNotifications, notification)
	return nil
}
