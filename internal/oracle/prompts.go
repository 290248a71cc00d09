package oracle

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dvloznov/taxledger/internal/apperr"
	"github.com/dvloznov/taxledger/internal/classify"
)

// Instruction is a question plus the rules the model must follow.
type Instruction struct {
	Question string
	Role     string
}

// QAPrompt asks the model to answer question using only document.
func QAPrompt(document string, in Instruction) string {
	var b strings.Builder
	b.WriteString("다음은 문서 자료이다. 이 문서 내의 정보만 사용하여 질문에 답해라.\n")
	b.WriteString("답변 시 존댓말 사용을 유지해라.\n\n")
	b.WriteString("요약:\n")
	b.WriteString(document)
	b.WriteString("\n\n질문:\n")
	b.WriteString(in.Question)
	b.WriteString("\n\n규칙:\n")
	b.WriteString(in.Role)
	b.WriteString("\n")
	return b.String()
}

var extractionInstructions = map[classify.Kind]Instruction{
	classify.KindIncome: {
		Question: "문서에서 소득 관련 항목과 금액만 추출해줘. " +
			"반드시 '항목명: 금액' 형식으로 한 줄에 하나씩 답변해. " +
			"설명, 주석, 별표, 마크다운은 사용하지 마. " +
			"예시: 급여: 3000000 식대: 200000 상여: 500000",
		Role: "소득 항목만 포함: 급여, 상여, 식대, 수당, 총급여, 이자소득, 배당소득. " +
			"보험료, 세금, 공제액 등 차감 항목은 제외. " +
			"문서 내 데이터만 사용하고 추론하지 마. " +
			"월별 구분이 있으면 합계만 사용. " +
			"순수 데이터만 반환.",
	},
	classify.KindExpense: {
		Question: "문서에서 지출 관련 항목과 금액만 추출해줘. " +
			"반드시 '항목명: 금액' 형식으로 한 줄에 하나씩 답변해. " +
			"설명, 주석, 별표, 마크다운은 사용하지 마. " +
			"예시: 국민연금보험료: 500000 신용카드: 1000000 건강보험료: 300000",
		Role: "지출 항목만 포함: 보험료, 카드사용액, 세금, 공과금, 대출, 월세, 통신비. " +
			"급여, 소득, 수당 등 수입 항목은 제외. " +
			"문서 내 데이터만 사용하고 추론하지 마. " +
			"월별 구분이 있으면 합계만 사용. " +
			"순수 데이터만 반환.",
	},
	classify.KindOther: {
		Question: "문서의 항목과 금액을 추출해줘. 형식: 항목명: 금액 (한 줄에 하나씩)",
		Role:     "문서 내 모든 금액을 찾아라. 월별 구분이 있으면 합계만 사용. 설명문 없이 순수 데이터만.",
	},
}

// ExtractionInstruction returns the extraction prompt parts for a document kind.
func ExtractionInstruction(kind classify.Kind) Instruction {
	if in, ok := extractionInstructions[kind]; ok {
		return in
	}
	return extractionInstructions[classify.KindOther]
}

// AnalysisKind names an advisory question asked over a session snapshot.
type AnalysisKind string

const (
	FutureAssets         AnalysisKind = "future-assets"
	TaxCredit            AnalysisKind = "tax-credit"
	DeductionExpectation AnalysisKind = "deduction-expectation"
)

const analysisTail = "추가적인 질문을 요구하는 문장은 제외하라. " +
	"-- 등으로 불필요한 줄나눔은 없게 하라."

const ntsReference = "참고할 사이트는 https://www.nts.go.kr/nts/cm/cntnts/cntntsView.do?mi=6596&cntntsId=7875 국세청 공식 사이트야."

var analysisInstructions = map[AnalysisKind]Instruction{
	FutureAssets: {
		Question: "현재 내 소득/지출 자료야. 이 자료를 토대로 미래 자산에 대한 재무 컨설팅을 듣고 싶어. " +
			"자산을 어떻게 분배하면 좋을지, 세액을 줄이는 방법이 있을지 알려줘. " +
			"소득이 10%, 20% 증가했을 때의 미래 예측 시뮬레이션도 포함해줘. " +
			"한국의 비슷한 소득 수준을 가진 사람들의 재무 데이터를 참고해줘.",
		Role: "주어진 자료를 토대로 한국의 비슷한 소득수준의 재무정보를 분석하여 포트폴리오 가이드를 제시하라. " +
			"현재 소득 수준과 10%, 20% 상승 시의 예측 자료를 함께 제시하라. " + analysisTail,
	},
	TaxCredit: {
		Question: "내 자료 중 연말정산 세액공제 항목에서 아직 받을 수 있는 혜택이 남아있다면 공제 가능 금액이 큰 순서대로 나열해줘. " +
			"각 항목에 100자 이내의 간략한 설명을 첨부해줘. " +
			"대상 항목: 1. 자녀 세액공제 2. 연금계좌 세액공제 3. 월세 세액공제 4. 보험료 세액공제 5. 의료비 세액공제 " +
			"6. 교육비 세액공제 7. 기부금 세액공제 8. 혼인 세액공제 9. 중소기업 취업자 소득세 감면 10. 근로소득세액공제. " +
			"자료에 없는 항목은 최대 공제 가능 금액을 표시하고 (예: 연금계좌 세액공제 = 6,000,000), " +
			"이미 최대 금액을 받는 항목은 제외하고, 일부만 받는 항목은 잔여 금액을 표시해. " +
			"항목명이 달라도 유사도가 0.9 이상이면 같은 항목으로 봐 (예: 혼인 세액공제 = 결혼세액공제). " + ntsReference,
		Role: "주어진 자료를 토대로 질문에 답변하라. " + analysisTail,
	},
	DeductionExpectation: {
		Question: "내 자료를 활용하여 연말정산에서 받을 수 있는 총 공제 예상 금액을 먼저 산출해줘. " +
			"앞으로 받을 수 있는 추가 공제 내역이 있다면 간결한 설명과 함께 알려줘. " + ntsReference,
		Role: "주어진 자료를 토대로 질문에 답변하라. " + analysisTail,
	},
}

// ParseAnalysisKind validates a kind name.
func ParseAnalysisKind(s string) (AnalysisKind, error) {
	k := AnalysisKind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := analysisInstructions[k]; !ok {
		return "", fmt.Errorf("%w: unknown analysis kind %q (want one of %s)", apperr.ErrInvalidInput, s, strings.Join(AnalysisKindNames(), ", "))
	}
	return k, nil
}

// AnalysisKindNames lists the supported kinds in sorted order.
func AnalysisKindNames() []string {
	names := make([]string, 0, len(analysisInstructions))
	for k := range analysisInstructions {
		names = append(names, string(k))
	}
	sort.Strings(names)
	return names
}

// Instruction returns the prompt parts for k.
func (k AnalysisKind) Instruction() Instruction {
	return analysisInstructions[k]
}
