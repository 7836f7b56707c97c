package types

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// SignalError 表示策略评估失败，调用方按 HOLD 处理。
type SignalError struct {
	Agent string
	Err   error
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("signal error (agent=%s): %v", e.Agent, e.Err)
}

func (e *SignalError) Unwrap() error { return e.Err }

// BrokerConnectivityError 表示券商不可达或超时，结果未知。
type BrokerConnectivityError struct {
	Op  string
	Err error
}

func (e *BrokerConnectivityError) Error() string {
	return fmt.Sprintf("broker %s unreachable: %v", e.Op, e.Err)
}

func (e *BrokerConnectivityError) Unwrap() error { return e.Err }

// BrokerRejectionError 表示券商明确拒绝，订单未成交。
type BrokerRejectionError struct {
	Op     string
	Code   string
	Reason string
}

func (e *BrokerRejectionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("broker rejected %s [%s]: %s", e.Op, e.Code, e.Reason)
	}
	return fmt.Sprintf("broker rejected %s: %s", e.Op, e.Reason)
}

// ConfigValidationError 描述单个字段的配置校验失败。
type ConfigValidationError struct {
	Field  string
	Reason string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

// ConfigValidationErrors 聚合多个字段错误。
type ConfigValidationErrors []*ConfigValidationError

func (es ConfigValidationErrors) Error() string {
	parts := make([]string, 0, len(es))
	for _, e := range es {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}

// Fields 以 field->reason 形式返回，供 API 输出。
func (es ConfigValidationErrors) Fields() map[string]string {
	out := make(map[string]string, len(es))
	for _, e := range es {
		out[e.Field] = e.Reason
	}
	return out
}

// AuthorizationError 表示远程请求未通过鉴权。
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	return "unauthorized: " + e.Reason
}

// IsConnectivity 判断错误是否属于券商连接类（含超时）。
func IsConnectivity(err error) bool {
	if err == nil {
		return false
	}
	var ce *BrokerConnectivityError
	if errors.As(err, &ce) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsRejection 判断错误是否为券商拒单。
func IsRejection(err error) bool {
	var re *BrokerRejectionError
	return errors.As(err, &re)
}

// IsConfigValidation 判断是否为配置校验失败。
func IsConfigValidation(err error) bool {
	var one *ConfigValidationError
	var many ConfigValidationErrors
	return errors.As(err, &one) || errors.As(err, &many)
}
