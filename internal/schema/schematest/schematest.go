// Package schematest provides a small three-subgraph supergraph shared by
// tests across the router packages.
package schematest

import (
	"testing"

	schema "github.com/hanpama/fedgate/internal/schema"
)

// Supergraph composes accounts, products and reviews. Product is an entity
// keyed by upc in products and reviews; User is keyed by id in accounts and
// reviews.
const Supergraph = `
enum join__Graph {
  ACCOUNTS @join__graph(name: "accounts", url: "http://accounts.local/graphql")
  PRODUCTS @join__graph(name: "products", url: "http://products.local/graphql")
  REVIEWS @join__graph(name: "reviews", url: "http://reviews.local/graphql")
}

type Query
  @join__type(graph: ACCOUNTS)
  @join__type(graph: PRODUCTS)
  @join__type(graph: REVIEWS)
{
  me: User @join__field(graph: ACCOUNTS)
  topProducts(first: Int = 5): [Product] @join__field(graph: PRODUCTS)
  product(upc: String!): Product @join__field(graph: PRODUCTS)
  requiredProduct(upc: String!): Product! @join__field(graph: PRODUCTS)
  latestReviews: [Review!] @join__field(graph: REVIEWS)
}

type Mutation
  @join__type(graph: PRODUCTS)
  @join__type(graph: REVIEWS)
{
  createProduct(upc: String!, name: String): Product @join__field(graph: PRODUCTS)
  createReview(upc: String!, body: String!): Review @join__field(graph: REVIEWS)
}

type Product
  @join__type(graph: PRODUCTS, key: "upc")
  @join__type(graph: REVIEWS, key: "upc")
{
  upc: String!
  name: String @join__field(graph: PRODUCTS)
  price: Int @join__field(graph: PRODUCTS)
  reviews: [Review] @join__field(graph: REVIEWS)
  reviewCount: Int! @join__field(graph: REVIEWS)
}

type Review @join__type(graph: REVIEWS, key: "id") {
  id: ID!
  body: String!
  author: User @join__field(graph: REVIEWS)
  product: Product @join__field(graph: REVIEWS)
}

type User
  @join__type(graph: ACCOUNTS, key: "id")
  @join__type(graph: REVIEWS, key: "id")
{
  id: ID!
  name: String @join__field(graph: ACCOUNTS)
  username: String! @join__field(graph: ACCOUNTS)
  reviews: [Review] @join__field(graph: REVIEWS)
}
`

// MustLoad loads Supergraph and fails the test on error.
func MustLoad(t testing.TB) *schema.Schema {
	t.Helper()
	s, err := schema.Load("supergraph.graphql", Supergraph)
	if err != nil {
		t.Fatalf("load supergraph: %v", err)
	}
	return s
}
