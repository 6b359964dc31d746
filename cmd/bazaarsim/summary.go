package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"github.com/talgya/bazaarbot/internal/market"
)

const summaryWindow = 10

func money(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

// writeSummary prints recent prices and volumes per commodity and cash per
// agent class.
func writeSummary(w io.Writer, m *market.Market) error {
	h := m.History()
	fmt.Fprintf(w, "%s after %s rounds\n\n", m.Name(), humanize.Comma(int64(m.Round())))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COMMODITY\tPRICE\tTRADED\tTOTAL TRADED\t")
	for _, c := range m.Commodities() {
		total := 0.0
		for _, v := range h.Trades().Values(c.Name) {
			total += v
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n",
			c.Name,
			money(m.AverageHistoricalPrice(c, summaryWindow)),
			humanize.CommafWithDigits(h.Trades().Average(c.Name, summaryWindow), 1),
			humanize.CommafWithDigits(total, 0),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintln(tw, "CLASS\tAGENTS\tAVG CASH\tAVG PROFIT\t")
	for _, class := range m.AgentClassNames() {
		n, cash := 0, 0.0
		for _, a := range m.Agents() {
			if a.ClassName() == class {
				n++
				cash += a.Money()
			}
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t\n",
			class, n,
			money(cash/float64(n)),
			money(h.Profit().Average(class, summaryWindow)),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	if class := m.MostProfitableAgentClass(summaryWindow); class != "" {
		fmt.Fprintf(w, "most profitable: %s\n", class)
	}
	if good, ok := m.HottestGood(1.5, summaryWindow); ok {
		fmt.Fprintf(w, "hottest good: %s\n", good.Name)
	}
	if good, ok := m.DearestGood(summaryWindow); ok {
		fmt.Fprintf(w, "dearest good: %s\n", good.Name)
	}
	_, err := fmt.Fprintf(w, "total cash: %s\n", money(totalCash(m)))
	return err
}

func totalCash(m *market.Market) float64 {
	total := 0.0
	for _, a := range m.Agents() {
		total += a.Money()
	}
	return total
}
