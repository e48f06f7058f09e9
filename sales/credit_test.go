package sales_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/sales-ledger/sales"
)

func TestComputeCredit(t *testing.T) {
	// Given: two credit-bearing sales, one cash sale, one collection and
	// records of another client
	client := sales.Client{ID: "c1", CreditLimit: dec("1000")}
	history := []sales.Sale{
		{ClientID: "c1", Type: sales.SaleCredit, CreditAmount: dec("300")},
		{ClientID: "c1", Type: sales.SaleMixed, CreditAmount: dec("150.50")},
		{ClientID: "c1", Type: sales.SaleCash, CreditAmount: dec("999")},
		{ClientID: "c2", Type: sales.SaleCredit, CreditAmount: dec("400")},
	}
	txs := []sales.Transaction{
		{ClientID: "c1", Category: sales.CategoryCollection, Direction: sales.DirectionIncome, Amount: dec("100")},
		{ClientID: "c1", Category: sales.CategorySales, Direction: sales.DirectionIncome, Amount: dec("75")},
		{ClientID: "c2", Category: sales.CategoryCollection, Direction: sales.DirectionIncome, Amount: dec("50")},
	}

	// When
	st := sales.ComputeCredit(client, history, txs)

	// Then: used = 450.50 - 100, available = 1000 - 350.50
	assert.True(t, st.Granted.Equal(dec("450.5")), "granted %s", st.Granted)
	assert.True(t, st.Collected.Equal(dec("100")))
	assert.True(t, st.Used.Equal(dec("350.5")))
	assert.True(t, st.Available.Equal(dec("649.5")), "available %s", st.Available)
}

func TestComputeCredit_IsPureOverHistory(t *testing.T) {
	client := sales.Client{ID: "c1", CreditLimit: dec("500")}
	history := []sales.Sale{{ClientID: "c1", Type: sales.SaleCredit, CreditAmount: dec("120")}}

	first := sales.ComputeCredit(client, history, nil)
	second := sales.ComputeCredit(client, history, nil)

	assert.True(t, first.Available.Equal(second.Available))
	assert.True(t, first.Used.Equal(second.Used))
	assert.True(t, first.Available.Equal(dec("380")))
}

func TestComputeCredit_LimitBelowUsage(t *testing.T) {
	client := sales.Client{ID: "c1", CreditLimit: dec("100")}
	history := []sales.Sale{{ClientID: "c1", Type: sales.SaleCredit, CreditAmount: dec("250")}}

	st := sales.ComputeCredit(client, history, nil)

	assert.True(t, st.Available.Equal(dec("-150")))
}

func TestComputeAdvance(t *testing.T) {
	txs := []sales.Transaction{
		{ClientID: "c1", Category: sales.CategoryAdvanceReceived, Direction: sales.DirectionIncome, Amount: dec("200")},
		{ClientID: "c1", Category: sales.CategoryAdvanceApplied, Direction: sales.DirectionExpense, Amount: dec("150")},
		// Wrong direction: not counted.
		{ClientID: "c1", Category: sales.CategoryAdvanceReceived, Direction: sales.DirectionExpense, Amount: dec("1000")},
		{ClientID: "c2", Category: sales.CategoryAdvanceReceived, Direction: sales.DirectionIncome, Amount: dec("70")},
	}

	st := sales.ComputeAdvance("c1", txs)

	assert.True(t, st.Received.Equal(dec("200")))
	assert.True(t, st.Applied.Equal(dec("150")))
	assert.True(t, st.Balance.Equal(dec("50")))
	assert.True(t, st.Displayable().Equal(dec("50")))
}

func TestAdvanceStatus_DisplayableClampsAtZero(t *testing.T) {
	st := sales.ComputeAdvance("c1", []sales.Transaction{
		{ClientID: "c1", Category: sales.CategoryAdvanceApplied, Direction: sales.DirectionExpense, Amount: dec("30")},
	})

	assert.True(t, st.Balance.Equal(dec("-30")), "raw balance is not clamped")
	assert.True(t, st.Displayable().IsZero())
}
