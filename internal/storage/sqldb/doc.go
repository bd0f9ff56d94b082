// Package sqldb opens MySQL or SQLite connection pools and applies versioned
// schema migrations. It backs the SQL session history provider and the SQL
// task store.
package sqldb
