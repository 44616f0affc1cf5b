// Package csr defines the report acquisition domain: catalog records, work items,
// pipeline states, the failure taxonomy, and the interfaces each stage implements.
package csr
