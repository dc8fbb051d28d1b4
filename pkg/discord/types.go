// Package discord provides the REST client and the wire types shared with
// the gateway. It covers the slice of API v10 a message-command bot needs.
package discord

import "time"

// User is a Discord user or bot account.
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator,omitempty"`
	Bot           bool   `json:"bot,omitempty"`
}

// Mention renders the user as a message mention.
func (u *User) Mention() string {
	return "<@" + u.ID + ">"
}

// Tag renders the classic name#discriminator handle, or just the username
// for accounts already migrated off discriminators.
func (u *User) Tag() string {
	if u.Discriminator == "" || u.Discriminator == "0" {
		return u.Username
	}

	return u.Username + "#" + u.Discriminator
}

// Guild as delivered in READY, where guilds arrive unavailable and fill in
// through later GUILD_CREATE events.
type Guild struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Unavailable bool   `json:"unavailable,omitempty"`
}

// Channel is the subset of channel fields the bot reads.
type Channel struct {
	ID      string `json:"id"`
	Type    int    `json:"type"`
	Name    string `json:"name,omitempty"`
	GuildID string `json:"guild_id,omitempty"`
}

// Message is an inbound message, from MESSAGE_CREATE or a REST response.
type Message struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	GuildID   string    `json:"guild_id,omitempty"`
	Author    User      `json:"author"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Mentions  []User    `json:"mentions,omitempty"`
	Embeds    []Embed   `json:"embeds,omitempty"`
}

// Embed is a rich message embed.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

// EmbedField is one name/value row in an embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// EmbedFooter is the footer line of an embed.
type EmbedFooter struct {
	Text string `json:"text"`
}

// MessageSend is the outbound payload for creating or editing a message.
type MessageSend struct {
	Content         string            `json:"content,omitempty"`
	Embeds          []Embed           `json:"embeds,omitempty"`
	Nonce           string            `json:"nonce,omitempty"`
	Reference       *MessageReference `json:"message_reference,omitempty"`
	AllowedMentions *AllowedMentions  `json:"allowed_mentions,omitempty"`
}

// MessageReference marks a message as a reply to another.
type MessageReference struct {
	MessageID string `json:"message_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
	GuildID   string `json:"guild_id,omitempty"`
}

// AllowedMentions restricts which mentions in the content actually ping.
// An empty Parse list suppresses everything.
type AllowedMentions struct {
	Parse       []string `json:"parse"`
	RepliedUser bool     `json:"replied_user,omitempty"`
}

// Ready is the payload of the READY dispatch.
type Ready struct {
	V                int     `json:"v"`
	User             User    `json:"user"`
	SessionID        string  `json:"session_id"`
	ResumeGatewayURL string  `json:"resume_gateway_url"`
	Guilds           []Guild `json:"guilds"`
}

// GatewayBot is the response of GET /gateway/bot.
type GatewayBot struct {
	URL               string            `json:"url"`
	Shards            int               `json:"shards"`
	SessionStartLimit SessionStartLimit `json:"session_start_limit"`
}

// SessionStartLimit tells the bot how many gateway sessions it may still
// start before Discord makes it wait.
type SessionStartLimit struct {
	Total          int `json:"total"`
	Remaining      int `json:"remaining"`
	ResetAfter     int `json:"reset_after"`
	MaxConcurrency int `json:"max_concurrency"`
}

// Gateway intent bits requested at IDENTIFY time.
const (
	IntentGuilds         = 1 << 0
	IntentGuildMembers   = 1 << 1
	IntentGuildMessages  = 1 << 9
	IntentDirectMessages = 1 << 12
	IntentMessageContent = 1 << 15
)

// IntentsDefault covers what a message-command bot needs.
const IntentsDefault = IntentGuilds | IntentGuildMessages | IntentDirectMessages | IntentMessageContent

// IntentsAll requests every event family the bot understands. The member
// and message-content bits are privileged and must be enabled for the
// application in the developer portal.
const IntentsAll = IntentsDefault | IntentGuildMembers
