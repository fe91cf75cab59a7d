package notification_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/folio/internal/catalog/domain"
	"github.com/smallbiznis/folio/internal/config"
	"github.com/smallbiznis/folio/internal/notification"
	"github.com/smallbiznis/folio/internal/providers/pdf"
	purchasedomain "github.com/smallbiznis/folio/internal/purchase/domain"
	purchaserepo "github.com/smallbiznis/folio/internal/purchase/repository"
	"github.com/smallbiznis/folio/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type sentTemplate struct {
	to       []string
	template string
	data     interface{}
}

type recordingEmail struct {
	sent []sentTemplate
	err  error
}

func (e *recordingEmail) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	return e.err
}

func (e *recordingEmail) SendTemplate(ctx context.Context, to []string, templateName string, data interface{}) error {
	if e.err != nil {
		return e.err
	}
	e.sent = append(e.sent, sentTemplate{to: to, template: templateName, data: data})
	return nil
}

func TestFormatMoney(t *testing.T) {
	cases := []struct {
		amount   int64
		currency string
		want     string
	}{
		{1250, "usd", "$12.50"},
		{5, "USD", "$0.05"},
		{0, "eur", "€0.00"},
		{-300, "gbp", "-£3.00"},
		{1500, "jpy", "¥1500"},
		{999, "chf", "9.99 CHF"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, notification.FormatMoney(tc.amount, tc.currency))
	}
}

type fixtureEnv struct {
	DB   *gorm.DB
	Node *snowflake.Node
}

func newService(t *testing.T, mail *recordingEmail) (*notification.Service, fixtureEnv) {
	t.Helper()
	env := fixtureEnv{DB: testutil.NewDB(t), Node: testutil.NewNode(t)}
	svc := notification.New(notification.Params{
		DB:           env.DB,
		Log:          zap.NewNop(),
		Cfg:          config.Config{SiteBaseURL: "https://shop.example/", Email: config.EmailConfig{SMTPFrom: "orders@shop.example"}},
		Policy:       config.NewStaticPolicyHolder(config.DefaultPolicy()),
		Email:        mail,
		PDF:          pdf.New(),
		PurchaseRepo: purchaserepo.Provide(),
	})
	return svc, env
}

func TestSendPurchaseConfirmation(t *testing.T) {
	mail := &recordingEmail{}
	svc, env := newService(t, mail)
	first := testutil.SeedBook(t, env.DB, env.Node, "The Long Road", 1299)
	second := testutil.SeedBook(t, env.DB, env.Node, "Short Stories", 500)
	p := testutil.SeedPurchase(t, env.DB, env.Node, testutil.PurchaseSeed{
		Status: purchasedomain.StatusCompleted,
		Token:  "tok-abc",
		Books:  []catalogdomain.Book{first, second},
	})

	require.NoError(t, svc.SendPurchaseConfirmation(context.Background(), &p))
	require.Len(t, mail.sent, 1)
	assert.Equal(t, []string{"reader@example.com"}, mail.sent[0].to)
	assert.Equal(t, "purchase_confirmation", mail.sent[0].template)

	subjecter, ok := mail.sent[0].data.(interface{ Subject() string })
	require.True(t, ok)
	assert.Contains(t, subjecter.Subject(), p.ID.String())

	assert.Equal(t,
		"https://shop.example/api/downloads/tok-abc/"+first.ID.String(),
		svc.DownloadURL(p.DownloadToken, first.ID.String()),
	)
	assert.Equal(t, "https://shop.example/api/purchases/receipt?token=tok-abc", svc.ReceiptURL("tok-abc"))
}

func TestSendPurchaseConfirmationPropagatesProviderError(t *testing.T) {
	mail := &recordingEmail{err: errors.New("smtp down")}
	svc, env := newService(t, mail)
	book := testutil.SeedBook(t, env.DB, env.Node, "Alone", 700)
	p := testutil.SeedPurchase(t, env.DB, env.Node, testutil.PurchaseSeed{Books: []catalogdomain.Book{book}})

	err := svc.SendPurchaseConfirmation(context.Background(), &p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")
}

func TestReceiptForToken(t *testing.T) {
	svc, env := newService(t, &recordingEmail{})
	book := testutil.SeedBook(t, env.DB, env.Node, "Receipts", 1000)
	completed := testutil.SeedPurchase(t, env.DB, env.Node, testutil.PurchaseSeed{
		Status: purchasedomain.StatusCompleted,
		Token:  "tok-done",
		Books:  []catalogdomain.Book{book},
	})
	testutil.SeedPurchase(t, env.DB, env.Node, testutil.PurchaseSeed{
		Status: purchasedomain.StatusPending,
		Token:  "tok-pending",
		Books:  []catalogdomain.Book{book},
	})

	r, name, err := svc.ReceiptForToken(context.Background(), "tok-done")
	require.NoError(t, err)
	assert.Equal(t, "receipt-"+completed.ID.String()+".pdf", name)
	body, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(body, []byte("%PDF")))

	_, _, err = svc.ReceiptForToken(context.Background(), "tok-pending")
	assert.ErrorIs(t, err, purchasedomain.ErrNotCompleted)

	_, _, err = svc.ReceiptForToken(context.Background(), "missing")
	assert.ErrorIs(t, err, purchasedomain.ErrNotFound)

	_, _, err = svc.ReceiptForToken(context.Background(), " ")
	assert.ErrorIs(t, err, notification.ErrInvalidToken)
}
