package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

type DevisStatusCount struct {
	Status string
	Count  int64
}

// CountDevisByStatus returns one row per status present for the societe.
func (q *Queries) CountDevisByStatus(ctx context.Context, societeID pgtype.UUID) ([]DevisStatusCount, error) {
	rows, err := q.db.Query(ctx, `
		SELECT status, count(*) FROM devis
		WHERE societe_id = $1
		GROUP BY status`,
		societeID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []DevisStatusCount
	for rows.Next() {
		var c DevisStatusCount
		if err := rows.Scan(&c.Status, &c.Count); err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

type MonthlyRevenueParams struct {
	SocieteID pgtype.UUID
	Since     pgtype.Date
}

type MonthlyRevenueRow struct {
	Mois    pgtype.Date
	TotalHT pgtype.Numeric
	Devis   int64
}

// MonthlySignedRevenue aggregates HT totals of signed devis per month of the
// devis date. Acompte-settled devis stay included since they were signed first.
func (q *Queries) MonthlySignedRevenue(ctx context.Context, arg MonthlyRevenueParams) ([]MonthlyRevenueRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT date_trunc('month', date_devis)::date AS mois,
		       COALESCE(sum(total_ht), 0) AS total_ht,
		       count(*) AS devis
		FROM devis
		WHERE societe_id = $1
		  AND status IN ('signe', 'acompte_regle')
		  AND date_devis >= $2
		GROUP BY 1
		ORDER BY 1`,
		arg.SocieteID, arg.Since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []MonthlyRevenueRow
	for rows.Next() {
		var r MonthlyRevenueRow
		if err := rows.Scan(&r.Mois, &r.TotalHT, &r.Devis); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}
