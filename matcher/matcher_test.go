package matcher

import (
	"fmt"
	"testing"

	"pricewise/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listing(id, store, title string, price float64) models.RawListing {
	return models.RawListing{ID: id, StoreID: store, StoreName: store, Title: title, Price: price}
}

func TestClusterGroupsSameProductAcrossStores(t *testing.T) {
	m := New(Options{})
	products := m.Cluster([]models.RawListing{
		listing("1", "jumia-ug", "Samsung Galaxy A14 128GB Black", 650000),
		listing("2", "amazon", "Samsung Galaxy A14 128GB - Black (New)", 179.99),
		listing("3", "jiji-ug", "Tecno Spark 10 Pro 256GB", 520000),
	})

	require.Len(t, products, 2)
	assert.Equal(t, []string{"jumia-ug", "amazon"}, products[0].StoreIDs())
	assert.Equal(t, "Samsung Galaxy A14 128GB Black", products[0].Title)
	assert.Equal(t, "electronics", products[0].Category)
	assert.Equal(t, []string{"jiji-ug"}, products[1].StoreIDs())
	assert.NotEqual(t, products[0].ID, products[1].ID)
}

func TestClusterKeepsCheaperListingPerStore(t *testing.T) {
	m := New(Options{})
	products, report := m.ClusterReport([]models.RawListing{
		listing("1", "jumia-ug", "Sony WH-1000XM5 Headphones", 1500000),
		listing("2", "jumia-ug", "Sony WH-1000XM5 Headphones", 1350000),
		listing("3", "jumia-ug", "Sony WH-1000XM5 Headphones", 1600000),
	})

	require.Len(t, products, 1)
	require.Len(t, products[0].Members, 1)
	assert.Equal(t, "2", products[0].Members[0].ID)
	assert.Equal(t, 2, report.Duplicates)
}

func TestClusterNeverRepeatsAStore(t *testing.T) {
	stores := []string{"a", "b", "c"}
	var listings []models.RawListing
	for i := 0; i < 30; i++ {
		listings = append(listings, listing(fmt.Sprint(i), stores[i%3], fmt.Sprintf("Acme Blender %d speed", i%4), float64(10+i)))
	}

	for _, p := range New(Options{}).Cluster(listings) {
		seen := map[string]bool{}
		for _, member := range p.Members {
			assert.False(t, seen[member.StoreID], "store %s repeated in %s", member.StoreID, p.Title)
			seen[member.StoreID] = true
		}
	}
}

func TestClusterThreshold(t *testing.T) {
	listings := []models.RawListing{
		listing("1", "a", "Nike Air Max 90 Sneakers", 120),
		listing("2", "b", "Nike Air Max 270 Sneakers", 150),
	}

	assert.Len(t, New(Options{Threshold: 0.9}).Cluster(listings), 2)
	assert.Len(t, New(Options{Threshold: 0.5}).Cluster(listings), 1)
}

func TestClusterTieBreak(t *testing.T) {
	t.Run("more members wins", func(t *testing.T) {
		m := New(Options{Threshold: 0.3, AmbiguityMargin: 0.01})
		products, report := m.ClusterReport([]models.RawListing{
			listing("1", "s1", "alpha beta", 1),
			listing("2", "s2", "alpha beta", 1),
			listing("3", "s3", "gamma delta", 1),
			listing("4", "s4", "alpha gamma", 1),
		})
		require.Len(t, products, 2)
		assert.Equal(t, []string{"s1", "s2", "s4"}, products[0].StoreIDs())
		assert.Equal(t, 1, report.Ambiguous)
	})

	t.Run("earlier cluster wins", func(t *testing.T) {
		m := New(Options{Threshold: 0.3})
		products := m.Cluster([]models.RawListing{
			listing("1", "s1", "gamma delta", 1),
			listing("2", "s2", "alpha beta", 1),
			listing("3", "s3", "alpha gamma", 1),
		})
		require.Len(t, products, 2)
		assert.Equal(t, []string{"s1", "s3"}, products[0].StoreIDs())
	})
}

func TestClusterIsDeterministic(t *testing.T) {
	listings := []models.RawListing{
		listing("1", "jumia-ke", "HP EliteBook 840 G5 Laptop", 45000),
		listing("2", "kilimall", "HP EliteBook 840 G5 Laptop 8GB", 43000),
		listing("3", "amazon", "Canon EOS 2000D Camera", 450),
	}
	first := New(Options{}).Cluster(listings)
	second := New(Options{}).Cluster(listings)
	assert.Equal(t, first, second)
}

func TestClusterEmpty(t *testing.T) {
	assert.Empty(t, New(Options{}).Cluster(nil))
}

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"samsung", "galaxy", "a14", "128gb"},
		Tokens("NEW Samsung Galaxy A14 (128GB) - UGX 650,000 samsung"))
	assert.Equal(t, []string{"iphone", "13", "pro"}, Tokens("iPhone 13 Pro | pack 2023"))
	assert.Empty(t, Tokens("  ---  "))
}

func TestJaccard(t *testing.T) {
	assert.Equal(t, 1.0, Jaccard([]string{"a", "b"}, []string{"b", "a"}))
	assert.InDelta(t, 1.0/3, Jaccard([]string{"a", "b"}, []string{"a", "c"}), 1e-9)
	assert.Zero(t, Jaccard(nil, []string{"a"}))
}

func TestInferCategory(t *testing.T) {
	assert.Equal(t, "electronics", InferCategory("Oraimo FreePods Earbuds"))
	assert.Equal(t, "fashion", InferCategory("Leather Handbag for Women"))
	assert.Equal(t, "", InferCategory("Mystery box"))

	assert.Equal(t, "electronics", NormalizeCategory(" Electronics "))
	assert.Equal(t, "home", NormalizeCategory("Kitchen appliances"))
	assert.Equal(t, "toys", NormalizeCategory("Toys"))
	assert.Equal(t, "", NormalizeCategory(""))
}
