package match

import "testing"

func TestNormalizeTitle_StripsMarkers(t *testing.T) {
	t.Parallel()

	if got := NormalizeTitle("[2026년](제3차) AI 바우처 지원사업"); got != "AI 바우처 지원사업" {
		t.Fatalf("unexpected normalized title: %q", got)
	}
	if got := NormalizeTitle("2025년도 창업도약패키지 (2차)"); got != "창업도약패키지" {
		t.Fatalf("unexpected normalized title: %q", got)
	}
	if got := NormalizeTitle("★ 수출바우처 ★  사업  공고"); got != "수출바우처 사업 공고" {
		t.Fatalf("unexpected normalized title: %q", got)
	}
}

func TestNormalizeTitle_Idempotent(t *testing.T) {
	t.Parallel()

	titles := []string{
		"[2026년](제3차) AI 바우처 지원사업",
		"  whitespace   everywhere  ",
		"plain title without markers",
		"(2024년) 【제 12차】 소상공인 정책자금",
		"",
	}
	for _, title := range titles {
		once := NormalizeTitle(title)
		twice := NormalizeTitle(once)
		if once != twice {
			t.Fatalf("normalization not idempotent for %q: first %q, second %q", title, once, twice)
		}
	}
}

func TestSimilarity_IdenticalAndEmpty(t *testing.T) {
	t.Parallel()

	if got := Similarity("AI 바우처 지원사업", "AI 바우처 지원사업"); got != 1.0 {
		t.Fatalf("expected 1.0 for identical strings, got %f", got)
	}
	if got := Similarity("", ""); got != 1.0 {
		t.Fatalf("expected 1.0 for two empty strings, got %f", got)
	}
	if got := Similarity("something", ""); got != 0 {
		t.Fatalf("expected 0 when one side is empty, got %f", got)
	}
	if got := Similarity("", "something"); got != 0 {
		t.Fatalf("expected 0 when one side is empty, got %f", got)
	}
}

func TestSimilarity_Symmetric(t *testing.T) {
	t.Parallel()

	pairs := [][2]string{
		{"창업지원사업 공고", "창업지원 사업 공고"},
		{"abcdef", "abcxef"},
		{"완전히 다른 제목", "전혀 상관없는 공고"},
	}
	for _, pair := range pairs {
		left := Similarity(pair[0], pair[1])
		right := Similarity(pair[1], pair[0])
		if left != right {
			t.Fatalf("similarity not symmetric for %q / %q: %f vs %f", pair[0], pair[1], left, right)
		}
		if left < 0 || left > 1 {
			t.Fatalf("similarity out of range for %q / %q: %f", pair[0], pair[1], left)
		}
	}
}

func TestSimilarity_NearMatch(t *testing.T) {
	t.Parallel()

	// One substitution across ten runes.
	if got := Similarity("abcdefghij", "abcdefghix"); got != 0.9 {
		t.Fatalf("expected 0.9 for single substitution over ten runes, got %f", got)
	}
}
