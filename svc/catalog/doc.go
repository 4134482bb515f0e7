// Package catalog loads the tier and price catalog from YAML:
//
//	tiers:
//	  standard:
//	    name: Standard
//	    prices:
//	      monthly: price_1PStdMonthly
//	      annual: price_1PStdAnnual
package catalog
