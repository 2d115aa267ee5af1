package notifications

import "context"

type StoreAPI interface {
	Insert(ctx context.Context, tenantID, userID string, msg Message) error
	Recipient(ctx context.Context, tenantID, userID string) (Recipient, error)
	List(ctx context.Context, tenantID, userID string, filter ListFilter) ([]Notification, error)
	MarkRead(ctx context.Context, tenantID, userID, notificationID string) (bool, error)
}
