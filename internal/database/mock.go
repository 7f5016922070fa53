package database

import (
	"time"

	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetChannelByExternalId(externalId string) (Channel, error) {
	args := m.Called(externalId)
	return args.Get(0).(Channel), args.Error(1)
}
func (m *MockChatRepository) GetChannelMembers(channelId int) ([]User, error) {
	args := m.Called(channelId)
	return args.Get(0).([]User), args.Error(1)
}
func (m *MockChatRepository) IsChannelMember(accountId, channelId int) (bool, error) {
	args := m.Called(accountId, channelId)
	return args.Bool(0), args.Error(1)
}
func (m *MockChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) GetMessages(channelId, before, limit int) ([]Message, error) {
	args := m.Called(channelId, before, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockChatRepository) UpdateChannelActivity(channelId int, t time.Time) error {
	args := m.Called(channelId, t)
	return args.Error(0)
}
func (m *MockChatRepository) SetPresence(accountId int, online bool, lastSeen time.Time) error {
	args := m.Called(accountId, online, lastSeen)
	return args.Error(0)
}
func (m *MockChatRepository) GetOnlineUserIds() ([]int, error) {
	args := m.Called()
	return args.Get(0).([]int), args.Error(1)
}
