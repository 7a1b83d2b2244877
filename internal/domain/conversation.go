package domain

import "time"

// Conversation is a message thread between a buyer and a listing owner.
type Conversation struct {
	ID                string
	ListingID         string
	InitiatorID       string
	OwnerID           string
	Subject           *string
	LastMessageAt     *time.Time
	IsReadByOwner     bool
	IsReadByInitiator bool
	CreatedAt         time.Time
}

// HasParticipant checks if the user is one of the two parties.
func (c *Conversation) HasParticipant(userID string) bool {
	return c.InitiatorID == userID || c.OwnerID == userID
}

// OtherParty returns the id of the participant that is not userID.
func (c *Conversation) OtherParty(userID string) string {
	if c.InitiatorID == userID {
		return c.OwnerID
	}
	return c.InitiatorID
}

// MarkSentBy flips the read flags after userID sent a message:
// the sender has read the thread, the recipient has not.
func (c *Conversation) MarkSentBy(userID string, at time.Time) {
	c.LastMessageAt = &at
	if userID == c.InitiatorID {
		c.IsReadByInitiator = true
		c.IsReadByOwner = false
		return
	}
	c.IsReadByOwner = true
	c.IsReadByInitiator = false
}

// MarkReadBy sets the viewer's read flag.
func (c *Conversation) MarkReadBy(userID string) {
	switch userID {
	case c.OwnerID:
		c.IsReadByOwner = true
	case c.InitiatorID:
		c.IsReadByInitiator = true
	}
}

// Message is a single entry in a conversation.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	IsRead         bool
	CreatedAt      time.Time
}

// ConversationSummary is the viewer-relative projection of a conversation.
type ConversationSummary struct {
	Conversation       *Conversation
	ListingName        *string
	ListingAvatarURL   *string
	OtherPartyName     *string
	LastMessagePreview *string
	UnreadCount        int
}
