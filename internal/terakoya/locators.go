// internal/terakoya/locators.go
package terakoya

import (
	"time"

	"github.com/kei1-dev/terakoya-invoicer/internal/browser"
)

// Locator is aliased so workflow code reads without the package hop.
type Locator = browser.Locator

// The site regenerates its styled-components class names on every
// deploy, so locators lean on element ids, input types and exact
// Japanese button text, with absolute-path fallbacks where the markup
// offers nothing better. Verified against the live pages 2025-11-01.

// -- Login --

var (
	// The header login control is a plain div with a framework click
	// handler, reachable only by position.
	locLoginMenu = browser.NewLocator("login menu",
		browser.XPath("/html/body/div[1]/header/div/div/div[2]/div[1]"),
	).WithTimeout(10 * time.Second)

	locLoginEmail = browser.NewLocator("login email",
		browser.CSS("input[type='email']"),
		browser.CSS("input[name='email']"),
		browser.CSS("#email"),
	).WithTimeout(10 * time.Second)

	locLoginPassword = browser.NewLocator("login password",
		browser.CSS("input[type='password']"),
		browser.CSS("input[name='password']"),
		browser.CSS("#password"),
	).WithTimeout(10 * time.Second)

	// Text match that excludes the Google and Facebook OAuth buttons.
	locLoginSubmit = browser.NewLocator("login submit",
		browser.XPath("//button[contains(text(), 'ログイン') and not(contains(text(), 'Google')) and not(contains(text(), 'Facebook'))]"),
	).WithTimeout(10 * time.Second)

	locLoginError = browser.NewLocator("login error",
		browser.CSS(".error"),
		browser.CSS(".alert-danger"),
		browser.CSS("[role='alert']"),
	).WithTimeout(3 * time.Second)
)

// -- Lessons page --

// lessonContainerPath bounds the edit-button sweep to the lesson list
// column; the page renders unrelated 編集 buttons elsewhere.
const lessonContainerPath = "/html/body/div[1]/div[2]/div/div/main/div/section[2]/div/div/div/div[3]"

// maxLessonCards caps how many edit buttons one retrieval marks.
const maxLessonCards = 100

var locMarkedEditButtons = browser.NewLocator("marked edit buttons",
	browser.CSS("button[data-terakoya-target='true']"),
).WithTimeout(5 * time.Second)

// -- Invoice page and submission modal --

var (
	locAddItemTrigger = browser.NewLocator("add invoice item trigger",
		browser.XPath("//button[text()='請求項目の追加']"),
	).WithTimeout(10 * time.Second)

	// The modal is detected through its own form fields; its container
	// carries generated class names that change between deploys.
	locModalFields = browser.NewLocator("invoice modal fields",
		browser.CSS("select#category"),
		browser.CSS("input.datepicker-date"),
	).WithTimeout(5 * time.Second)

	locModalContainer = browser.NewLocator("invoice modal",
		browser.CSS(".modal"),
		browser.CSS(".dialog"),
		browser.CSS("[role='dialog']"),
	).WithTimeout(2 * time.Second)

	locModalCategory = browser.NewLocator("category select",
		browser.CSS("select#category"),
	).WithTimeout(5 * time.Second)

	locModalDate = browser.NewLocator("date input",
		browser.CSS("input.datepicker-date"),
	).WithTimeout(5 * time.Second)

	locModalLesson = browser.NewLocator("lesson select",
		browser.CSS("select#lesson"),
		browser.XPath("/html/body/div[1]/div[2]/div/div/div[2]/div/div[4]/select"),
	).WithTimeout(5 * time.Second)

	locModalStudentSelect = browser.NewLocator("student select",
		browser.CSS("select#student"),
	).WithTimeout(2 * time.Second)

	locStudentDropdown = browser.NewLocator("student dropdown",
		browser.CSS("div.sc-eVrRMb"),
		browser.CSS("div.sc-eYHxxX"),
	).WithTimeout(3 * time.Second)

	locStudentSearch = browser.NewLocator("student search input",
		browser.CSS("input[placeholder='検索']"),
	).WithTimeout(3 * time.Second)

	locModalDuration = browser.NewLocator("duration input",
		browser.CSS("input#amount"),
	).WithTimeout(5 * time.Second)

	locModalUnitPrice = browser.NewLocator("unit price input",
		browser.CSS("input#unit_price"),
	).WithTimeout(5 * time.Second)

	locModalSave = browser.NewLocator("modal save",
		browser.XPath("//button[text()='追加']"),
	).WithTimeout(5 * time.Second)
)

// -- Monthly claim submission --

var (
	locSubmitMonthly = browser.NewLocator("monthly claim submit",
		browser.XPath("//button[text()='月次の請求を申請する']"),
	).WithTimeout(10 * time.Second)

	locSubmitConfirm = browser.NewLocator("claim confirm",
		browser.XPath("//button[text()='請求申請の確定']"),
	).WithTimeout(10 * time.Second)

	locSuccessIndicator = browser.NewLocator("success indicator",
		browser.CSS(".success"),
		browser.CSS(".alert-success"),
		browser.CSS("[role='status']"),
	).WithTimeout(10 * time.Second)

	locErrorIndicator = browser.NewLocator("error indicator",
		browser.CSS(".error"),
		browser.CSS(".alert-danger"),
		browser.CSS("[role='alert']"),
	).WithTimeout(5 * time.Second)

	locInvoiceRows = browser.NewLocator("invoice item rows",
		browser.CSS("tr.invoice-item"),
		browser.CSS("tbody tr"),
		browser.CSS(".invoice-row"),
	).WithTimeout(5 * time.Second)
)

// Selectors applied to captured page source rather than the live DOM.
const (
	// loginFormSelector is the heuristic for "this is a login screen".
	loginFormSelector = "input[type='password'], form[action*='login']"

	rowsSelector          = "tr.invoice-item, tbody tr, .invoice-row"
	cellDateSelector      = "td.date, .item-date, [data-field='date']"
	cellStudentSelector   = "td.student, .item-student, [data-field='student']"
	cellStudentIDSelector = "td.student-id, .item-student-id, [data-field='student-id']"
	cellCategorySelector  = "td.category, .item-category, [data-field='category']"
	cellDurationSelector  = "td.duration, .item-duration, [data-field='duration']"
	cellUnitPriceSelector = "td.unit-price, .item-unit-price, [data-field='unit-price']"
)
