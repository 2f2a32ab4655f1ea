package applog

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"sync"

	slogzap "github.com/samber/slog-zap/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config 日志配置
type Config struct {
	Level     string
	Format    string // text | json
	AddSource bool
	Output    io.Writer
}

var (
	zapLogger *zap.Logger
	mu        sync.RWMutex
)

// Init 初始化全局日志（zap 作为底层，slog 作为门面）
func Init(cfg Config) {
	logger := newZapLogger(cfg)

	mu.Lock()
	prev := zapLogger
	zapLogger = logger
	mu.Unlock()
	if prev != nil {
		_ = prev.Sync()
	}

	zap.ReplaceGlobals(logger)

	handler := slogzap.Option{
		Level:     levelOf(cfg.Level).slog,
		Logger:    logger,
		AddSource: cfg.AddSource,
	}.NewZapHandler()
	slog.SetDefault(slog.New(handler))

	// chi 的 middleware.Logger 走标准库 log
	log.SetOutput(cfg.writer())
	log.SetFlags(0)
}

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if zapLogger != nil {
		return zapLogger
	}
	return zap.L()
}

// Sync 刷新缓冲，退出前调用
func Sync() {
	_ = current().Sync()
}

func Debug(msg string, args ...any) { slog.Debug(msg, args...) }
func Info(msg string, args ...any)  { slog.Info(msg, args...) }
func Warn(msg string, args ...any)  { slog.Warn(msg, args...) }
func Error(msg string, args ...any) { slog.Error(msg, args...) }

func Debugf(format string, args ...any) { slog.Debug(fmt.Sprintf(format, args...)) }
func Infof(format string, args ...any)  { slog.Info(fmt.Sprintf(format, args...)) }
func Warnf(format string, args ...any)  { slog.Warn(fmt.Sprintf(format, args...)) }
func Errorf(format string, args ...any) { slog.Error(fmt.Sprintf(format, args...)) }

func Fatalf(format string, args ...any) {
	slog.Error(fmt.Sprintf(format, args...))
	Sync()
	os.Exit(1)
}

func newZapLogger(cfg Config) *zap.Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.TimeKey = "time"

	var encoder zapcore.Encoder
	if strings.EqualFold(cfg.Format, "json") {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(cfg.writer()), levelOf(cfg.Level).zap)

	options := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.AddSource {
		options = append(options, zap.AddCaller())
	}
	return zap.New(core, options...)
}

func (c Config) writer() io.Writer {
	if c.Output == nil {
		return os.Stdout
	}
	return c.Output
}

type level struct {
	slog slog.Level
	zap  zapcore.Level
}

// levelOf 解析级别名，未知值按 info 处理
func levelOf(name string) level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return level{slog.LevelDebug, zapcore.DebugLevel}
	case "warn", "warning":
		return level{slog.LevelWarn, zapcore.WarnLevel}
	case "error":
		return level{slog.LevelError, zapcore.ErrorLevel}
	default:
		return level{slog.LevelInfo, zapcore.InfoLevel}
	}
}
