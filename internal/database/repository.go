package database

import "time"

type ChatRepository interface {
	Ping() error
	GetAccountById(accountId int) (User, error)
	GetChannelByExternalId(externalId string) (Channel, error)
	GetChannelMembers(channelId int) ([]User, error)
	IsChannelMember(accountId, channelId int) (bool, error)
	CreateMessage(params CreateMessageParams) (Message, error)
	GetMessages(channelId, before, limit int) ([]Message, error)
	UpdateChannelActivity(channelId int, t time.Time) error
	SetPresence(accountId int, online bool, lastSeen time.Time) error
	GetOnlineUserIds() ([]int, error)
}
