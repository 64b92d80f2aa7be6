package scrape

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const invoicePage = `
<!DOCTYPE html>
<html>
<body>
  <div id="app">
    <form class="login-form">
      <input type="email" name="email" id="email">
      <input type="password" id="password">
      <button type="submit">ログイン</button>
    </form>
    <table class="invoice-table">
      <thead>
        <tr><th>日付</th><th>生徒</th><th>カテゴリ</th><th>時間</th><th>単価</th></tr>
      </thead>
      <tbody>
        <tr class="invoice-item">
          <td>2025-10-01</td><td>山田太郎</td><td>専属レッスン</td><td>60分</td><td>¥2,300</td>
        </tr>
        <tr class="invoice-item">
          <td>2025-10-03</td><td>佐藤花子</td><td>初回レッスン</td><td>60分</td><td>¥2,300</td>
        </tr>
      </tbody>
    </table>
    <div role="alert" class="error">ログインに失敗しました</div>
  </div>
</body>
</html>`

func TestSelect(t *testing.T) {
	doc, err := Parse(invoicePage)
	require.NoError(t, err)

	tests := []struct {
		name     string
		selector string
		want     int
	}{
		{name: "tag", selector: "tr", want: 3},
		{name: "class", selector: ".invoice-item", want: 2},
		{name: "tag with class", selector: "tr.invoice-item", want: 2},
		{name: "id", selector: "#email", want: 1},
		{name: "tag with id", selector: "input#email", want: 1},
		{name: "attribute equals", selector: "input[type='email']", want: 1},
		{name: "attribute presence", selector: "div[role]", want: 1},
		{name: "descendant", selector: "tbody tr", want: 2},
		{name: "child", selector: "thead > tr", want: 1},
		{name: "comma alternatives", selector: "tr.invoice-item, .error", want: 3},
		{name: "alternative fallback order", selector: ".missing, tbody tr", want: 2},
		{name: "no match", selector: ".nope", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nodes, err := doc.Select(tt.selector)
			require.NoError(t, err)
			assert.Len(t, nodes, tt.want)
		})
	}
}

func TestSelectFirstAndHas(t *testing.T) {
	doc, err := Parse(invoicePage)
	require.NoError(t, err)

	node, err := doc.SelectFirst("tr.invoice-item")
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Contains(t, Text(node), "山田太郎")

	missing, err := doc.SelectFirst("#nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.True(t, doc.Has("input[type='password']"))
	assert.True(t, doc.Has(".error, .alert-danger, [role='alert']"))
	assert.False(t, doc.Has(".alert-success"))
	assert.False(t, doc.Has("!!!"), "malformed selectors count as no match")
}

func TestSelectIn(t *testing.T) {
	doc, err := Parse(invoicePage)
	require.NoError(t, err)

	rows, err := doc.Select("tr.invoice-item")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Scoped to the first row, the cell query must not leak into the
	// second row.
	cells, err := SelectIn(rows[0], "td")
	require.NoError(t, err)
	require.Len(t, cells, 5)
	assert.Equal(t, "山田太郎", Text(cells[1]))

	first, err := SelectFirstIn(rows[1], "td")
	require.NoError(t, err)
	assert.Equal(t, "2025-10-03", Text(first))

	none, err := SelectFirstIn(rows[0], ".missing, th")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = SelectIn(rows[0], "!!!")
	assert.Error(t, err)
}

func TestAttributeSubstringMatch(t *testing.T) {
	doc, err := Parse(`<form action="/auth/login/submit"><input type="text"></form>`)
	require.NoError(t, err)

	assert.True(t, doc.Has("form[action*='login']"))
	assert.False(t, doc.Has("form[action*='logout']"))

	expr, err := translateSelector("a[href*='claim']")
	require.NoError(t, err)
	assert.Equal(t, "//a[contains(@href, 'claim')]", expr)
}

func TestTextCollapsesWhitespace(t *testing.T) {
	doc, err := Parse(`<p>  日付:
		2025-10-01   </p>`)
	require.NoError(t, err)

	node, err := doc.SelectFirst("p")
	require.NoError(t, err)
	assert.Equal(t, "日付: 2025-10-01", Text(node))

	assert.Equal(t, "", Text(nil))
}

func TestAttr(t *testing.T) {
	doc, err := Parse(invoicePage)
	require.NoError(t, err)

	node, err := doc.SelectFirst("input[type='email']")
	require.NoError(t, err)
	assert.Equal(t, "email", Attr(node, "name"))
	assert.Equal(t, "", Attr(node, "missing"))
	assert.Equal(t, "", Attr(nil, "name"))
}

func TestTable(t *testing.T) {
	doc, err := Parse(invoicePage)
	require.NoError(t, err)

	table, err := doc.SelectFirst("table.invoice-table")
	require.NoError(t, err)

	rows := Table(table)
	require.Len(t, rows, 3, "header row plus two data rows")
	assert.Equal(t, []string{"日付", "生徒", "カテゴリ", "時間", "単価"}, rows[0])
	assert.Equal(t, []string{"2025-10-01", "山田太郎", "専属レッスン", "60分", "¥2,300"}, rows[1])
	assert.Equal(t, []string{"2025-10-03", "佐藤花子", "初回レッスン", "60分", "¥2,300"}, rows[2])

	assert.Nil(t, Table(nil))
}

func TestQueryXPath(t *testing.T) {
	doc, err := Parse(invoicePage)
	require.NoError(t, err)

	nodes, err := doc.QueryXPath(`//button[text()='ログイン']`)
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	_, err = doc.QueryXPath("////")
	assert.Error(t, err)
}

func TestTranslateSelector(t *testing.T) {
	tests := []struct {
		selector string
		want     string
	}{
		{selector: "tr", want: "//tr"},
		{selector: "#email", want: "//*[@id='email']"},
		{selector: "select#category", want: "//select[@id='category']"},
		{
			selector: "tr.invoice-item",
			want:     "//tr[contains(concat(' ', normalize-space(@class), ' '), ' invoice-item ')]",
		},
		{selector: "input[type='email']", want: "//input[@type='email']"},
		{selector: "input[placeholder='検索']", want: "//input[@placeholder='検索']"},
		{selector: "div[role]", want: "//div[@role]"},
		{selector: "tbody tr", want: "//tbody//tr"},
		{selector: "thead > tr", want: "//thead/tr"},
		{selector: "#a, .b", want: "//*[@id='a'] | //*[contains(concat(' ', normalize-space(@class), ' '), ' b ')]"},
	}

	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			got, err := translateSelector(tt.selector)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", " ", "a >", "> a", "!!!", "a[=x]"} {
		t.Run("rejects "+bad, func(t *testing.T) {
			_, err := translateSelector(bad)
			assert.Error(t, err)
		})
	}
}
