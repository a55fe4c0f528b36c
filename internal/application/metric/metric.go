package metric

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP метрики - количество запросов
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Общее количество HTTP запросов",
		},
		[]string{"method", "endpoint", "status"},
	)

	// HTTP метрики - время обработки запросов
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Время обработки HTTP запросов в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	// HTTP метрики - количество ошибок
	httpErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Общее количество HTTP ошибок",
		},
		[]string{"method", "endpoint", "status"},
	)

	// Текущее состояние сессии, one-hot по label state
	sessionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "session_state",
			Help: "Текущее состояние подключения к комнате",
		},
		[]string{"state"},
	)

	sessionJoinTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_join_total",
			Help: "Попытки подключения к комнате по результату",
		},
		[]string{"result"},
	)

	trackOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "track_operations_total",
			Help: "Операции с локальными треками",
		},
		[]string{"source", "operation", "result"},
	)

	participantsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "participants_active",
			Help: "Количество участников в ростере",
		},
	)

	profileLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "profile_lookups_total",
			Help: "Запросы профилей участников",
		},
		[]string{"result"},
	)

	chatMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Сообщения чата по направлению",
		},
		[]string{"direction"},
	)

	dataPacketsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "data_packets_dropped_total",
			Help: "Отброшенные пакеты data channel",
		},
	)

	rtpPacketsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtp_packets_received_total",
			Help: "Полученные RTP пакеты удалённых треков",
		},
		[]string{"kind"},
	)
)

var sessionStates = []string{"idle", "connecting", "connected", "reconnecting", "disconnected", "failed"}

// RecordHTTPMetrics записывает метрики HTTP запроса
func RecordHTTPMetrics(method, endpoint string, status int, duration time.Duration) {
	strStatus := strconv.Itoa(status)

	httpRequestsTotal.WithLabelValues(method, endpoint, strStatus).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, strStatus).Observe(duration.Seconds())

	// Записываем ошибки (статус >= 400)
	if status >= 400 {
		httpErrorsTotal.WithLabelValues(method, endpoint, strStatus).Inc()
	}
}

func SetSessionState(state string) {
	for _, s := range sessionStates {
		if s == state {
			sessionState.WithLabelValues(s).Set(1)
		} else {
			sessionState.WithLabelValues(s).Set(0)
		}
	}
}

func RecordJoin(result string) {
	sessionJoinTotal.WithLabelValues(result).Inc()
}

func RecordTrackOperation(source, operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}

	trackOperationsTotal.WithLabelValues(source, operation, result).Inc()
}

func SetParticipantsActive(count int) {
	participantsActive.Set(float64(count))
}

func RecordProfileLookup(ok bool) {
	if ok {
		profileLookupsTotal.WithLabelValues("ok").Inc()
		return
	}

	profileLookupsTotal.WithLabelValues("fallback").Inc()
}

func IncrementChatSent() {
	chatMessagesTotal.WithLabelValues("sent").Inc()
}

func IncrementChatReceived() {
	chatMessagesTotal.WithLabelValues("received").Inc()
}

func IncrementDataPacketsDropped() {
	dataPacketsDroppedTotal.Inc()
}

func IncrementRTPPacketsReceived(kind string) {
	rtpPacketsReceivedTotal.WithLabelValues(kind).Inc()
}
