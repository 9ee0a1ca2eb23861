package models

import (
	"time"
)

// SysLabel is a provider-assigned status tag on a message
type SysLabel string

const (
	LabelJunk      SysLabel = "junk"
	LabelTrash     SysLabel = "trash"
	LabelSent      SysLabel = "sent"
	LabelInbox     SysLabel = "inbox"
	LabelUnread    SysLabel = "unread"
	LabelFlagged   SysLabel = "flagged"
	LabelImportant SysLabel = "important"
	LabelDraft     SysLabel = "draft"
)

// Sensitivity of a message as reported by the provider
type Sensitivity string

const (
	SensitivityNormal       Sensitivity = "normal"
	SensitivityPrivate      Sensitivity = "private"
	SensitivityPersonal     Sensitivity = "personal"
	SensitivityConfidential Sensitivity = "confidential"
)

// MeetingMessageMethod is set on calendar invitation messages
type MeetingMessageMethod string

const (
	MeetingRequest MeetingMessageMethod = "request"
	MeetingReply   MeetingMessageMethod = "reply"
	MeetingCancel  MeetingMessageMethod = "cancel"
	MeetingCounter MeetingMessageMethod = "counter"
	MeetingOther   MeetingMessageMethod = "other"
)

// EmailAddress is a participant address as it appears on a provider record
type EmailAddress struct {
	Name    *string `json:"name,omitempty"`
	Address string  `json:"address" validate:"required"`
	Raw     *string `json:"raw,omitempty"`
}

// EmailAttachment is attachment metadata (and optionally inline content)
type EmailAttachment struct {
	ID              string  `json:"id" validate:"required"`
	Name            string  `json:"name" validate:"required"`
	MimeType        string  `json:"mimeType" validate:"required"`
	Size            int     `json:"size" validate:"gte=0"`
	Inline          bool    `json:"inline"`
	ContentID       *string `json:"contentId,omitempty"`
	Content         *string `json:"content,omitempty"`
	ContentLocation *string `json:"contentLocation,omitempty"`
}

// EmailHeader is a single raw internet header
type EmailHeader struct {
	Name  string `json:"name" validate:"required"`
	Value string `json:"value"`
}

// EmailMessage is an immutable snapshot of one provider email.
// InternetMessageID is the durable identity; ID may change between sync passes.
type EmailMessage struct {
	ID                   string               `json:"id" validate:"required"`
	ThreadID             string               `json:"threadId" validate:"required"`
	CreatedTime          time.Time            `json:"createdTime" validate:"required"`
	LastModifiedTime     time.Time            `json:"lastModifiedTime"`
	SentAt               time.Time            `json:"sentAt" validate:"required"`
	ReceivedAt           time.Time            `json:"receivedAt" validate:"required"`
	InternetMessageID    string               `json:"internetMessageId" validate:"required"`
	Subject              string               `json:"subject"`
	SysLabels            []SysLabel           `json:"sysLabels" validate:"dive,oneof=junk trash sent inbox unread flagged important draft"`
	Keywords             []string             `json:"keywords"`
	SysClassifications   []string             `json:"sysClassifications"`
	Sensitivity          Sensitivity          `json:"sensitivity" validate:"omitempty,oneof=normal private personal confidential"`
	MeetingMessageMethod MeetingMessageMethod `json:"meetingMessageMethod,omitempty" validate:"omitempty,oneof=request reply cancel counter other"`
	From                 EmailAddress         `json:"from"`
	To                   []EmailAddress       `json:"to" validate:"dive"`
	Cc                   []EmailAddress       `json:"cc" validate:"dive"`
	Bcc                  []EmailAddress       `json:"bcc" validate:"dive"`
	ReplyTo              []EmailAddress       `json:"replyTo" validate:"dive"`
	HasAttachments       bool                 `json:"hasAttachments"`
	Body                 *string              `json:"body,omitempty"`
	BodySnippet          *string              `json:"bodySnippet,omitempty"`
	Attachments          []EmailAttachment    `json:"attachments" validate:"dive"`
	InReplyTo            *string              `json:"inReplyTo,omitempty"`
	References           *string              `json:"references,omitempty"`
	ThreadIndex          *string              `json:"threadIndex,omitempty"`
	InternetHeaders      []EmailHeader        `json:"internetHeaders" validate:"dive"`
	NativeProperties     map[string]string    `json:"nativeProperties,omitempty"`
	FolderID             *string              `json:"folderId,omitempty"`
	WebLink              *string              `json:"webLink,omitempty"`
	Omitted              []string             `json:"omitted" validate:"dive,oneof=threadId body attachments recipients internetHeaders"`
}

// HasLabel reports whether the provider tagged the message with label
func (m *EmailMessage) HasLabel(label SysLabel) bool {
	for _, l := range m.SysLabels {
		if l == label {
			return true
		}
	}
	return false
}

// Addresses returns every participant address in from, to, cc, bcc, replyTo order
func (m *EmailMessage) Addresses() []EmailAddress {
	addrs := make([]EmailAddress, 0, 1+len(m.To)+len(m.Cc)+len(m.Bcc)+len(m.ReplyTo))
	addrs = append(addrs, m.From)
	addrs = append(addrs, m.To...)
	addrs = append(addrs, m.Cc...)
	addrs = append(addrs, m.Bcc...)
	addrs = append(addrs, m.ReplyTo...)
	return addrs
}

// SyncStartResponse is returned by the provider when a sync job is requested
type SyncStartResponse struct {
	SyncUpdatedToken string `json:"syncUpdatedToken" validate:"required_if=Ready true"`
	SyncDeletedToken string `json:"syncDeletedToken"`
	Ready            bool   `json:"ready"`
}

// SyncUpdatedResponse is one page of the updated-records stream.
// NextDeltaToken is only final on the page that has no NextPageToken.
type SyncUpdatedResponse struct {
	NextPageToken  string         `json:"nextPageToken,omitempty"`
	NextDeltaToken string         `json:"nextDeltaToken" validate:"required_without=NextPageToken"`
	Length         int            `json:"length"`
	Records        []EmailMessage `json:"records" validate:"dive"`
}

// EmailLabel is the single local classification derived from sysLabels
type EmailLabel string

const (
	EmailLabelInbox EmailLabel = "inbox"
	EmailLabelSent  EmailLabel = "sent"
	EmailLabelDraft EmailLabel = "draft"
	EmailLabelTrash EmailLabel = "trash"
)

// Email database model, keyed by internet_message_id
type Email struct {
	ID                   string               `db:"id" json:"id"`
	AccountID            string               `db:"account_id" json:"accountId"`
	ThreadID             string               `db:"thread_id" json:"threadId"`
	InternetMessageID    string               `db:"internet_message_id" json:"internetMessageId"`
	CreatedTime          time.Time            `db:"created_time" json:"createdTime"`
	LastModifiedTime     time.Time            `db:"last_modified_time" json:"lastModifiedTime"`
	SentAt               time.Time            `db:"sent_at" json:"sentAt"`
	ReceivedAt           time.Time            `db:"received_at" json:"receivedAt"`
	Subject              string               `db:"subject" json:"subject"`
	SysLabels            []SysLabel           `db:"sys_labels" json:"sysLabels"`
	Keywords             []string             `db:"keywords" json:"keywords"`
	SysClassifications   []string             `db:"sys_classifications" json:"sysClassifications"`
	Sensitivity          Sensitivity          `db:"sensitivity" json:"sensitivity"`
	MeetingMessageMethod MeetingMessageMethod `db:"meeting_message_method" json:"meetingMessageMethod,omitempty"`
	FromID               string               `db:"from_id" json:"fromId"`
	ToIDs                []string             `db:"to_ids" json:"toIds"`
	CcIDs                []string             `db:"cc_ids" json:"ccIds"`
	BccIDs               []string             `db:"bcc_ids" json:"bccIds"`
	ReplyToIDs           []string             `db:"reply_to_ids" json:"replyToIds"`
	HasAttachments       bool                 `db:"has_attachments" json:"hasAttachments"`
	Body                 *string              `db:"body" json:"body,omitempty"`
	BodySnippet          *string              `db:"body_snippet" json:"bodySnippet,omitempty"`
	InReplyTo            *string              `db:"in_reply_to" json:"inReplyTo,omitempty"`
	References           *string              `db:"email_references" json:"references,omitempty"`
	ThreadIndex          *string              `db:"thread_index" json:"threadIndex,omitempty"`
	InternetHeaders      []EmailHeader        `db:"internet_headers" json:"internetHeaders"`
	NativeProperties     map[string]string    `db:"native_properties" json:"nativeProperties,omitempty"`
	FolderID             *string              `db:"folder_id" json:"folderId,omitempty"`
	WebLink              *string              `db:"web_link" json:"webLink,omitempty"`
	Omitted              []string             `db:"omitted" json:"omitted"`
	EmailLabel           EmailLabel           `db:"email_label" json:"emailLabel"`
	IsDeleted            bool                 `db:"is_deleted" json:"isDeleted"`
	DeletedAt            *time.Time           `db:"deleted_at" json:"deletedAt,omitempty"`
}

// Attachment database model, owned by an Email
type Attachment struct {
	ID              string  `db:"id" json:"id"`
	EmailID         string  `db:"email_id" json:"emailId"`
	Name            string  `db:"name" json:"name"`
	MimeType        string  `db:"mime_type" json:"mimeType"`
	Size            int     `db:"size" json:"size"`
	Inline          bool    `db:"inline" json:"inline"`
	ContentID       *string `db:"content_id" json:"contentId,omitempty"`
	Content         *string `db:"content" json:"content,omitempty"`
	ContentLocation *string `db:"content_location" json:"contentLocation,omitempty"`
}

// ThreadStatus holds the folder flags and deletion state derived from member emails
type ThreadStatus struct {
	DraftStatus bool       `db:"draft_status" json:"draftStatus"`
	InboxStatus bool       `db:"inbox_status" json:"inboxStatus"`
	SentStatus  bool       `db:"sent_status" json:"sentStatus"`
	IsDeleted   bool       `db:"is_deleted" json:"isDeleted"`
	DeletedAt   *time.Time `db:"deleted_at" json:"deletedAt,omitempty"`
}

// Thread database model, keyed by the provider thread id
type Thread struct {
	ID              string    `db:"id" json:"id"`
	AccountID       string    `db:"account_id" json:"accountId"`
	Subject         string    `db:"subject" json:"subject"`
	LastMessageDate time.Time `db:"last_message_date" json:"lastMessageDate"`
	ParticipantIDs  []string  `db:"participant_ids" json:"participantIds"`
	ThreadStatus
}

// ThreadEmailState is the slice of an email needed to converge its thread
type ThreadEmailState struct {
	EmailLabel EmailLabel `db:"email_label"`
	IsDeleted  bool       `db:"is_deleted"`
}
