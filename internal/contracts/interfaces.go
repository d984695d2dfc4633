package contracts

// HealthMonitor supplies the system health score (external collaborator)
// ⭐ SSOT: 헬스 점수 산출 인터페이스
// 코어는 이 인터페이스로만 헬스 상태를 조회하며 내부 구현에 접근하지 않음
type HealthMonitor interface {
	// SetEquity 현재 포트폴리오 평가액 전달
	SetEquity(equity float64)
	// RecordLatency 주문/메시지 지연 기록 (ms)
	RecordLatency(latencyMS float64)
	// RecordFill 체결 기록 (슬리피지 bps)
	RecordFill(slippageBps float64)
	// RecordRejection 주문 거부 기록
	RecordRejection()
	// Metrics 현재 헬스 메트릭 조회 (score 0~100)
	Metrics() HealthMetrics
}

// RegimeDetector supplies market regime classification (external collaborator)
// ⭐ SSOT: 레짐 판별 인터페이스 (스펙트럼/DSP 구현은 외부)
type RegimeDetector interface {
	// Update 최신 수익률 반영
	Update(currentReturn float64)
	// Analyze 현재 레짐 분석 결과 조회
	Analyze() RegimeAnalysis
}

// VarianceRatioSource supplies the fast/slow variance ratio
// Thompson Sampling 적응형 망각 계수 계산에 사용 (외부 변동성 검출기)
type VarianceRatioSource interface {
	// VarianceRatio 현재 fast/slow 분산 비율
	// < 0.7 = 안정, 0.7~1.5 = 보통, > 1.5 = 변동성 확대
	VarianceRatio() float64
}

// AuditSink receives parameter change events (append-only, external)
// ⭐ 계약: Emit은 절대 블로킹하지 않는다 (fire-and-forget)
// 싱크 장애/지연이 엔진 루프에 전파되어서는 안 됨
type AuditSink interface {
	Emit(event AuditEvent)
}
