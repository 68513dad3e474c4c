package agent

import (
	"context"
	"errors"
)

// MockChatResponse 定义了 MockChatModel 的单次预期响应
type MockChatResponse struct {
	Content string
	Error   error
}

// MockChatModel 是一个用于测试的 StructuredChatModel 模拟实现
type MockChatModel struct {
	// 固定响应
	ExpectedResponse string
	ExpectedError    error

	// 顺序响应
	SequentialResponses []MockChatResponse
	ResponseIndex       int
	IsSequential        bool

	// 记录所有收到的请求，便于断言提示词内容
	ReceivedRequests []ChatRequest
}

// NewMockChatModel 创建一个返回固定响应的 MockChatModel
func NewMockChatModel(expectedResponse string, expectedError error) *MockChatModel {
	return &MockChatModel{
		ExpectedResponse: expectedResponse,
		ExpectedError:    expectedError,
	}
}

// NewMockChatModelSequential 创建一个按顺序返回不同响应的 MockChatModel
func NewMockChatModelSequential(responses []MockChatResponse) *MockChatModel {
	if len(responses) == 0 {
		// 避免panic：responses为空时返回一个总是报错的模拟
		responses = []MockChatResponse{{Error: errors.New("mock model has no responses configured")}}
	}
	return &MockChatModel{
		SequentialResponses: responses,
		IsSequential:        true,
	}
}

// Chat 实现 StructuredChatModel 接口
func (m *MockChatModel) Chat(ctx context.Context, req ChatRequest) (string, error) {
	m.ReceivedRequests = append(m.ReceivedRequests, req)

	if m.IsSequential {
		if m.ResponseIndex >= len(m.SequentialResponses) {
			return "", errors.New("mock model has run out of sequential responses")
		}
		resp := m.SequentialResponses[m.ResponseIndex]
		m.ResponseIndex++
		if resp.Error != nil {
			return "", resp.Error
		}
		return resp.Content, nil
	}

	if m.ExpectedError != nil {
		return "", m.ExpectedError
	}
	return m.ExpectedResponse, nil
}
