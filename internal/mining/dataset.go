package mining

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrBadTransaction is wrapped by every validation failure in NewDataset.
// The message always names the offending transaction index.
var ErrBadTransaction = errors.New("malformed transaction")

// Transaction is one basket presented to the miner. The three slices are
// parallel: Quantities[i] units of Items[i] at UnitUtilities[i] per unit.
type Transaction struct {
	Items         []int
	Quantities    []float64
	UnitUtilities []float64
}

// Dataset is an immutable, validated snapshot of transactions. Building
// one precomputes per-transaction utility indexes so that exact utility
// and support for any candidate itemset can be answered without rescans.
type Dataset struct {
	id       uint64
	txns     []Transaction
	itemUtil []map[int]float64
	tu       []float64
}

var datasetSeq atomic.Uint64

// NewDataset validates txns and builds the utility index. Transactions
// with mismatched array lengths, empty baskets, repeated items, or
// negative quantities or utilities are rejected.
func NewDataset(txns []Transaction) (*Dataset, error) {
	ds := &Dataset{
		id:       datasetSeq.Add(1),
		txns:     txns,
		itemUtil: make([]map[int]float64, len(txns)),
		tu:       make([]float64, len(txns)),
	}
	for i, t := range txns {
		if len(t.Items) == 0 {
			return nil, fmt.Errorf("%w: transaction %d has no items", ErrBadTransaction, i)
		}
		if len(t.Quantities) != len(t.Items) || len(t.UnitUtilities) != len(t.Items) {
			return nil, fmt.Errorf("%w: transaction %d has %d items, %d quantities, %d unit utilities",
				ErrBadTransaction, i, len(t.Items), len(t.Quantities), len(t.UnitUtilities))
		}
		m := make(map[int]float64, len(t.Items))
		for j, item := range t.Items {
			q, u := t.Quantities[j], t.UnitUtilities[j]
			if q < 0 || u < 0 {
				return nil, fmt.Errorf("%w: transaction %d item %d has negative quantity or unit utility",
					ErrBadTransaction, i, item)
			}
			if _, dup := m[item]; dup {
				return nil, fmt.Errorf("%w: transaction %d repeats item %d", ErrBadTransaction, i, item)
			}
			m[item] = q * u
			ds.tu[i] += q * u
		}
		ds.itemUtil[i] = m
	}
	return ds, nil
}

// Len returns the number of transactions.
func (d *Dataset) Len() int { return len(d.txns) }

// TotalUtility returns the transaction utility of transaction t.
func (d *Dataset) TotalUtility(t int) float64 { return d.tu[t] }

// ItemUtility returns u(item, t), or 0 when the item is absent from t.
func (d *Dataset) ItemUtility(t, item int) float64 { return d.itemUtil[t][item] }

// Utility returns the exact utility of itemset in transaction t and
// whether every item of the itemset occurs in t.
func (d *Dataset) Utility(items []int, t int) (float64, bool) {
	var sum float64
	for _, it := range items {
		u, ok := d.itemUtil[t][it]
		if !ok {
			return 0, false
		}
		sum += u
	}
	return sum, true
}
