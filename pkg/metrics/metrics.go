package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 Worker/API 注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		RecordsFinalized, AttemptFailures, AttemptDuration,
		QuotaWaitSeconds, QuotaAcquired, KeyRotations,
		LLMTokensTotal, HandoffTotal, RunsTotal, LedgerFlushSeconds,
		FeedbackPolls,
	)
}

// RecordsFinalized 文件记录进入终态或 Failed 的次数
var RecordsFinalized = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "refactor_records_finalized_total",
		Help: "文件记录终结次数（按状态与模式）",
	},
	[]string{"status", "mode"},
)

// AttemptFailures 单次尝试失败（按错误类别）
var AttemptFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "refactor_attempt_failures_total",
		Help: "处理尝试失败次数（按错误类别）",
	},
	[]string{"kind"},
)

// AttemptDuration 单文件处理耗时（秒）
var AttemptDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "refactor_attempt_duration_seconds",
		Help:    "单文件处理耗时（秒）",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
	},
	[]string{"outcome"},
)

// QuotaWaitSeconds 配额等待耗时
var QuotaWaitSeconds = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "refactor_quota_wait_seconds",
		Help:    "Quota Governor acquire 等待时间（秒）",
		Buckets: []float64{0, 0.1, 1, 5, 15, 30, 60, 120},
	},
)

// QuotaAcquired acquire 结果
var QuotaAcquired = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "refactor_quota_acquire_total",
		Help: "配额获取次数（ok | exhausted | canceled）",
	},
	[]string{"result"},
)

// KeyRotations 凭据轮换次数
var KeyRotations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "refactor_key_rotations_total",
		Help: "凭据轮换次数",
	},
	[]string{"provider"},
)

// LLMTokensTotal 估算的 LLM token 用量
var LLMTokensTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "refactor_llm_tokens_total",
		Help: "LLM 调用 token 估算总数",
	},
	[]string{"provider", "direction"}, // input | output
)

// HandoffTotal 交付到 sink 的结果
var HandoffTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "refactor_handoff_total",
		Help: "产物交付次数（按 sink 与结果）",
	},
	[]string{"sink", "result"},
)

// RunsTotal run 结束次数
var RunsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "refactor_runs_total",
		Help: "run 结束次数（completed | canceled | fatal）",
	},
	[]string{"result"},
)

// LedgerFlushSeconds 账本落盘耗时
var LedgerFlushSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "refactor_ledger_flush_seconds",
		Help:    "账本整体序列化并替换的耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"backend"},
)

// FeedbackPolls PR 评审跟进结果
var FeedbackPolls = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "refactor_feedback_polls_total",
		Help: "PR 评审轮询次数（idle | revised | merged | closed | exhausted | error）",
	},
	[]string{"result"},
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 等复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
