package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aegis-sign/wallet-bridge/pkg/apierrors"
)

const (
	// NameDisconnect 是断开钱包的边界调用名。
	NameDisconnect = "OreWalletDisconnecter"
	// NameSignTransaction 是交易签名的边界调用名。
	NameSignTransaction = "OreTxSigner"
	// NameSignMessage 是消息签名的边界调用名。
	NameSignMessage = "OreMsgSigner"
)

const tracerName = "github.com/aegis-sign/wallet-bridge/internal/app/bridge"

var wellKnownNames = []string{NameSignMessage, NameSignTransaction, NameDisconnect}

// WellKnownNames 返回所有可注册的调用名，按字典序排列。
func WellKnownNames() []string {
	return append([]string(nil), wellKnownNames...)
}

// IsWellKnown 判断 name 是否属于固定调用名集合。
func IsWellKnown(name string) bool {
	for _, known := range wellKnownNames {
		if known == name {
			return true
		}
	}
	return false
}

// Callable 是一个边界可调用对象，params 为原始 JSON 参数，返回值会被编码为 JSON。
type Callable func(ctx context.Context, params json.RawMessage) (any, error)

// RegistryConfig 用于初始化 Registry。
type RegistryConfig struct {
	Logger         *slog.Logger
	Metrics        *Metrics
	TracerProvider trace.TracerProvider
}

// Registry 把固定的调用名映射到当前实现，整表以写时复制方式原子替换，后注册者生效。
type Registry struct {
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer

	mu    sync.Mutex
	slots atomic.Pointer[map[string]Callable]
}

// NewRegistry 构造空的 Registry。
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	provider := cfg.TracerProvider
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	r := &Registry{
		logger:  logger,
		metrics: cfg.Metrics,
		tracer:  provider.Tracer(tracerName),
	}
	empty := map[string]Callable{}
	r.slots.Store(&empty)
	return r
}

// Register 安装或替换 name 对应的实现。未知名字会被拒绝。
func (r *Registry) Register(name string, fn Callable) error {
	if !IsWellKnown(name) {
		return apierrors.New(apierrors.CodeUnknownCallable, fmt.Sprintf("unknown callable %q", name))
	}
	if fn == nil {
		return fmt.Errorf("callable %s: implementation is required", name)
	}
	r.update(func(next map[string]Callable) { next[name] = fn })
	return nil
}

// Deregister 清空 name 对应的槽位，可重复调用。
func (r *Registry) Deregister(name string) {
	r.update(func(next map[string]Callable) { delete(next, name) })
}

// Lookup 返回 name 当前的实现。
func (r *Registry) Lookup(name string) (Callable, bool) {
	fn, ok := (*r.slots.Load())[name]
	return fn, ok
}

// Names 返回已注册的调用名，按字典序排列。
func (r *Registry) Names() []string {
	slots := *r.slots.Load()
	names := make([]string, 0, len(slots))
	for name := range slots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke 调用 name 对应的实现；槽位为空时返回 UNKNOWN_CALLABLE。
func (r *Registry) Invoke(ctx context.Context, name string, params json.RawMessage) (any, error) {
	ctx, span := r.tracer.Start(ctx, "bridge.invoke",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("bridge.callable", name)),
	)
	defer span.End()

	start := time.Now()
	fn, ok := r.Lookup(name)
	var (
		result any
		err    error
	)
	if !ok {
		err = apierrors.New(apierrors.CodeUnknownCallable, fmt.Sprintf("callable %q is not registered", name))
		r.logger.Warn("invoke of unregistered callable", slog.String("callable", name))
	} else {
		result, err = fn(ctx, params)
	}

	code := "OK"
	if err != nil {
		code = string(apierrors.CodeInternal)
		if apiErr, ok := apierrors.FromError(err); ok {
			code = string(apiErr.Code)
		}
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, code)
	}
	span.SetAttributes(attribute.String("bridge.result_code", code))
	metricName := name
	if !IsWellKnown(name) {
		metricName = "unknown"
	}
	r.metrics.observeInvocation(metricName, code, durationMs(time.Since(start)))
	return result, err
}

func (r *Registry) update(mutate func(map[string]Callable)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current := *r.slots.Load()
	next := make(map[string]Callable, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	mutate(next)
	r.slots.Store(&next)
}
