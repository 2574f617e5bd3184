package i18n

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	require.NoError(t, Init(lang))
	return Context(context.Background(), lang)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")
	assert.Equal(t, "Accuracy", T(ctx, "Accuracy"))
	assert.Equal(t, "Protocol compliance", T(ctx, "CheckProtocol"))
}

func TestTranslateRussian(t *testing.T) {
	ctx := initLang(t, "ru")
	assert.Equal(t, "Точность", T(ctx, "Accuracy"))
	assert.Equal(t, "Подтема", T(ctx, "LevelSubtopic"))
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")
	assert.Equal(t, "1 failure", Tp(ctx, "Failures", 1))
	assert.Equal(t, "5 failures", Tp(ctx, "Failures", 5))

	ru := initLang(t, "ru")
	assert.Equal(t, "1 ошибка", Tp(ru, "Failures", 1))
	assert.Equal(t, "3 ошибки", Tp(ru, "Failures", 3))
	assert.Equal(t, "7 ошибок", Tp(ru, "Failures", 7))
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")
	assert.Equal(t, "Run r-42", Td(ctx, "RunTitle", map[string]any{"RunID": "r-42"}))
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")
	assert.Equal(t, "NonExistentKey", T(ctx, "NonExistentKey"))
}

func TestLocalesHaveSameKeys(t *testing.T) {
	require.NoError(t, Init("en"))
	assert.ElementsMatch(t, []language.Tag{language.English, language.Russian}, Languages())

	en, err := localeFS.ReadFile("locales/en.json")
	require.NoError(t, err)
	ru, err := localeFS.ReadFile("locales/ru.json")
	require.NoError(t, err)
	assert.Equal(t, keys(t, en), keys(t, ru))
}

func keys(t *testing.T, data []byte) []string {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestInitRejectsBadLanguage(t *testing.T) {
	assert.Error(t, Init("not a language!"))
	require.NoError(t, Init("en"))
}

func TestMiddlewareAcceptLanguage(t *testing.T) {
	require.NoError(t, Init("en"))
	var got string
	h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "Status")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "Статус", got)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "Status", got)
}
