package devis

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/technoprod/backend-gestion/internal/common"
	"github.com/technoprod/backend-gestion/internal/obs"
	"github.com/technoprod/backend-gestion/internal/pricing"
	"github.com/technoprod/backend-gestion/internal/store"
)

const (
	defaultTitreSection = "Titre de section"
	defaultSousTotal    = "Sous-total"
)

func validKind(kind string) bool {
	switch kind {
	case store.LigneKindProduit, store.LigneKindTitreSection, store.LigneKindSousTotal:
		return true
	}
	return false
}

// CreateLigne appends or inserts one ligne and recomputes the header totals.
// A requested position below the natural next slot shifts every ligne at or
// above it up by one before the insert.
func (s *Service) CreateLigne(ctx context.Context, devisID string, input LigneInput) (Element, Totals, error) {
	if err := s.ready(); err != nil {
		return Element{}, Totals{}, err
	}
	sid, err := societeFromContext(ctx)
	if err != nil {
		return Element{}, Totals{}, err
	}
	did, err := store.UUIDValue(devisID)
	if err != nil {
		return Element{}, Totals{}, notFound("devis")
	}
	if !validKind(input.Type) {
		return Element{}, Totals{}, common.NewAppError("VALIDATION_ERROR", "type must be produit, titre_section or sous_total", http.StatusBadRequest, nil)
	}

	var (
		created store.DevisLigne
		header  store.Devis
	)
	err = s.DB.RunTx(ctx, func(q Querier) error {
		d, err := q.GetDevisForUpdate(ctx, store.GetDevisParams{SocieteID: sid, ID: did})
		if err != nil {
			return mapStoreError(err, "devis")
		}
		if err := checkVersion(d, input.ExpectedVersion); err != nil {
			return err
		}

		next, err := q.NextPosition(ctx, did)
		if err != nil {
			return err
		}
		position := next
		if input.Position != nil && *input.Position >= 0 && *input.Position < next {
			position = *input.Position
			if _, err := q.ShiftPositionsUp(ctx, store.ShiftPositionsParams{DevisID: did, Position: position}); err != nil {
				return err
			}
		}

		params := store.InsertLigneParams{
			ID:       store.NewUUID(),
			DevisID:  did,
			Kind:     input.Type,
			Position: position,
		}
		if input.Description != nil {
			params.Description = store.TextValue(*input.Description)
		}
		if len(input.Params) > 0 {
			params.Params = []byte(input.Params)
		}

		switch input.Type {
		case store.LigneKindProduit:
			if err := s.fillProduitLigne(ctx, q, sid, input, &params); err != nil {
				return err
			}
		case store.LigneKindTitreSection:
			params.Designation = store.TextValue(defaultTitreSection)
			if input.Designation != nil && *input.Designation != "" {
				params.Designation = store.TextValue(*input.Designation)
			}
		case store.LigneKindSousTotal:
			params.Designation = store.TextValue(defaultSousTotal)
			if input.Designation != nil && *input.Designation != "" {
				params.Designation = store.TextValue(*input.Designation)
			}
		}

		created, err = q.InsertLigne(ctx, params)
		if err != nil {
			return mapStoreError(err, "ligne")
		}
		header, err = recomputeTotals(ctx, q, did)
		return err
	})
	obs.ObserveLigneMutation("create", err)
	if err != nil {
		return Element{}, Totals{}, err
	}
	return convertElement(created), convertTotals(header), nil
}

// fillProduitLigne resolves product-line fields, prefilling designation,
// price and VAT from the referenced produit when they are absent.
func (s *Service) fillProduitLigne(ctx context.Context, q Querier, sid pgtype.UUID, input LigneInput, params *store.InsertLigneParams) error {
	var produit *store.Produit
	if input.ProduitID != nil && *input.ProduitID != "" {
		pid, err := store.UUIDValue(*input.ProduitID)
		if err != nil {
			return common.NewAppError("VALIDATION_ERROR", "invalid produit_id", http.StatusBadRequest, err)
		}
		p, err := q.GetProduit(ctx, store.GetProduitParams{SocieteID: sid, ID: pid})
		if err != nil {
			return mapStoreError(err, "produit")
		}
		produit = &p
		params.ProduitID = pid
	}

	designation := ""
	if input.Designation != nil {
		designation = *input.Designation
	}
	if designation == "" && produit != nil {
		designation = produit.Designation
	}
	params.Designation = store.TextValue(designation)

	quantite := decimal.NewFromInt(1)
	if input.Quantite != nil {
		quantite = *input.Quantite
	}
	prix := decimal.Zero
	if input.PrixUnitaire != nil {
		prix = *input.PrixUnitaire
	} else if produit != nil {
		prix = store.DecimalFromNumeric(produit.PrixUnitaire)
	}
	remise := decimal.Zero
	if input.RemisePct != nil {
		remise = *input.RemisePct
	}
	tva := decimal.Zero
	if input.TauxTVA != nil {
		tva = *input.TauxTVA
	} else if produit != nil {
		tva = store.DecimalFromNumeric(produit.TauxTVA)
	}

	totals, err := pricing.ComputeLine(pricing.Line{Quantite: quantite, PrixUnitaire: prix, RemisePct: remise, TauxTVA: tva})
	if err != nil {
		return common.NewAppError("VALIDATION_ERROR", err.Error(), http.StatusBadRequest, err)
	}
	params.Quantite = store.NumericFromDecimal(quantite)
	params.PrixUnitaire = store.NumericFromDecimal(prix)
	params.RemisePct = store.NumericFromDecimal(remise)
	params.TauxTVA = store.NumericFromDecimal(tva)
	params.TotalHT = store.NumericFromDecimal(totals.HT)
	params.TotalTTC = store.NumericFromDecimal(totals.TTC)
	return nil
}

// UpdateLigne overwrites supplied fields and recomputes totals. A ligne
// belonging to another devis is reported as not found.
func (s *Service) UpdateLigne(ctx context.Context, devisID, ligneID string, input LigneInput) (Element, Totals, error) {
	if err := s.ready(); err != nil {
		return Element{}, Totals{}, err
	}
	sid, err := societeFromContext(ctx)
	if err != nil {
		return Element{}, Totals{}, err
	}
	did, err := store.UUIDValue(devisID)
	if err != nil {
		return Element{}, Totals{}, notFound("devis")
	}
	lid, err := store.UUIDValue(ligneID)
	if err != nil {
		return Element{}, Totals{}, notFound("ligne")
	}

	var (
		updated store.DevisLigne
		header  store.Devis
	)
	err = s.DB.RunTx(ctx, func(q Querier) error {
		d, err := q.GetDevisForUpdate(ctx, store.GetDevisParams{SocieteID: sid, ID: did})
		if err != nil {
			return mapStoreError(err, "devis")
		}
		if err := checkVersion(d, input.ExpectedVersion); err != nil {
			return err
		}
		existing, err := q.GetLigne(ctx, store.GetLigneParams{DevisID: did, ID: lid})
		if err != nil {
			return mapStoreError(err, "ligne")
		}

		params := store.UpdateLigneParams{
			ID:           lid,
			DevisID:      did,
			Designation:  existing.Designation,
			Description:  existing.Description,
			Quantite:     existing.Quantite,
			PrixUnitaire: existing.PrixUnitaire,
			RemisePct:    existing.RemisePct,
			TauxTVA:      existing.TauxTVA,
			TotalHT:      existing.TotalHT,
			TotalTTC:     existing.TotalTTC,
			ProduitID:    existing.ProduitID,
			Params:       existing.Params,
		}
		if input.Designation != nil {
			params.Designation = store.TextValue(*input.Designation)
		}
		if input.Description != nil {
			params.Description = store.TextValue(*input.Description)
		}
		if len(input.Params) > 0 {
			params.Params = []byte(input.Params)
		}

		if existing.Kind == store.LigneKindProduit {
			if input.ProduitID != nil {
				if *input.ProduitID == "" {
					params.ProduitID = pgtype.UUID{}
				} else {
					pid, err := store.UUIDValue(*input.ProduitID)
					if err != nil {
						return common.NewAppError("VALIDATION_ERROR", "invalid produit_id", http.StatusBadRequest, err)
					}
					if _, err := q.GetProduit(ctx, store.GetProduitParams{SocieteID: sid, ID: pid}); err != nil {
						return mapStoreError(err, "produit")
					}
					params.ProduitID = pid
				}
			}
			if input.Quantite != nil {
				params.Quantite = store.NumericFromDecimal(*input.Quantite)
			}
			if input.PrixUnitaire != nil {
				params.PrixUnitaire = store.NumericFromDecimal(*input.PrixUnitaire)
			}
			if input.RemisePct != nil {
				params.RemisePct = store.NumericFromDecimal(*input.RemisePct)
			}
			if input.TauxTVA != nil {
				params.TauxTVA = store.NumericFromDecimal(*input.TauxTVA)
			}
			totals, err := pricing.ComputeLine(pricing.Line{
				Quantite:     store.DecimalFromNumeric(params.Quantite),
				PrixUnitaire: store.DecimalFromNumeric(params.PrixUnitaire),
				RemisePct:    store.DecimalFromNumeric(params.RemisePct),
				TauxTVA:      store.DecimalFromNumeric(params.TauxTVA),
			})
			if err != nil {
				return common.NewAppError("VALIDATION_ERROR", err.Error(), http.StatusBadRequest, err)
			}
			params.TotalHT = store.NumericFromDecimal(totals.HT)
			params.TotalTTC = store.NumericFromDecimal(totals.TTC)
		}

		updated, err = q.UpdateLigne(ctx, params)
		if err != nil {
			return mapStoreError(err, "ligne")
		}
		header, err = recomputeTotals(ctx, q, did)
		return err
	})
	obs.ObserveLigneMutation("update", err)
	if err != nil {
		return Element{}, Totals{}, err
	}
	return convertElement(updated), convertTotals(header), nil
}

// DeleteLigne removes one ligne, compacts the remaining positions and
// recomputes the header totals.
func (s *Service) DeleteLigne(ctx context.Context, devisID, ligneID string, expectedVersion *int32) (Totals, error) {
	if err := s.ready(); err != nil {
		return Totals{}, err
	}
	sid, err := societeFromContext(ctx)
	if err != nil {
		return Totals{}, err
	}
	did, err := store.UUIDValue(devisID)
	if err != nil {
		return Totals{}, notFound("devis")
	}
	lid, err := store.UUIDValue(ligneID)
	if err != nil {
		return Totals{}, notFound("ligne")
	}

	var header store.Devis
	err = s.DB.RunTx(ctx, func(q Querier) error {
		d, err := q.GetDevisForUpdate(ctx, store.GetDevisParams{SocieteID: sid, ID: did})
		if err != nil {
			return mapStoreError(err, "devis")
		}
		if err := checkVersion(d, expectedVersion); err != nil {
			return err
		}
		existing, err := q.GetLigne(ctx, store.GetLigneParams{DevisID: did, ID: lid})
		if err != nil {
			return mapStoreError(err, "ligne")
		}
		affected, err := q.DeleteLigne(ctx, store.GetLigneParams{DevisID: did, ID: lid})
		if err != nil {
			return err
		}
		if affected == 0 {
			return notFound("ligne")
		}
		if _, err := q.ShiftPositionsDown(ctx, store.ShiftPositionsParams{DevisID: did, Position: existing.Position}); err != nil {
			return err
		}
		header, err = recomputeTotals(ctx, q, did)
		return err
	})
	obs.ObserveLigneMutation("delete", err)
	if err != nil {
		return Totals{}, err
	}
	return convertTotals(header), nil
}

// Reorder rewrites every ligne's position to its index in ids. The list must
// be a full permutation of the devis' lignes; partial lists are rejected so
// positions can never desynchronize.
func (s *Service) Reorder(ctx context.Context, devisID string, ids []string, expectedVersion *int32) (int, Totals, error) {
	if err := s.ready(); err != nil {
		return 0, Totals{}, err
	}
	sid, err := societeFromContext(ctx)
	if err != nil {
		return 0, Totals{}, err
	}
	did, err := store.UUIDValue(devisID)
	if err != nil {
		return 0, Totals{}, notFound("devis")
	}
	if len(ids) == 0 {
		return 0, Totals{}, common.NewAppError("VALIDATION_ERROR", "elementIds is required", http.StatusBadRequest, nil)
	}

	count := 0
	var header store.Devis
	err = s.DB.RunTx(ctx, func(q Querier) error {
		d, err := q.GetDevisForUpdate(ctx, store.GetDevisParams{SocieteID: sid, ID: did})
		if err != nil {
			return mapStoreError(err, "devis")
		}
		if err := checkVersion(d, expectedVersion); err != nil {
			return err
		}
		existing, err := q.ListLigneIDs(ctx, did)
		if err != nil {
			return err
		}
		if err := requirePermutation(existing, ids); err != nil {
			return err
		}
		for i, id := range ids {
			lid, err := store.UUIDValue(id)
			if err != nil {
				return common.NewAppError("VALIDATION_ERROR", "invalid element id", http.StatusBadRequest, err)
			}
			affected, err := q.SetLignePosition(ctx, store.SetLignePositionParams{DevisID: did, ID: lid, Position: int32(i)})
			if err != nil {
				return err
			}
			count += int(affected)
		}
		header, err = recomputeTotals(ctx, q, did)
		return err
	})
	obs.ObserveLigneMutation("reorder", err)
	if err != nil {
		return 0, Totals{}, err
	}
	return count, convertTotals(header), nil
}

func requirePermutation(existing []pgtype.UUID, requested []string) error {
	if len(existing) != len(requested) {
		return common.NewAppError("VALIDATION_ERROR",
			"elementIds must list every ligne of the devis exactly once", http.StatusBadRequest, nil)
	}
	seen := make(map[string]bool, len(existing))
	for _, id := range existing {
		seen[store.UUIDString(id)] = false
	}
	for _, id := range requested {
		used, ok := seen[id]
		if !ok || used {
			return common.NewAppError("VALIDATION_ERROR",
				"elementIds must list every ligne of the devis exactly once", http.StatusBadRequest, nil)
		}
		seen[id] = true
	}
	return nil
}

// ListElements returns the lignes of a devis ordered by position.
func (s *Service) ListElements(ctx context.Context, devisID string) ([]Element, error) {
	_, elements, err := s.GetHeader(ctx, devisID)
	return elements, err
}

// Subtotal holds a running subtotal result.
type Subtotal struct {
	HT        string `json:"ht"`
	TTC       string `json:"ttc"`
	Formatted string `json:"formatted"`
}

// SubtotalUpTo sums product-line totals at positions up to and including the
// given one. Pure read.
func (s *Service) SubtotalUpTo(ctx context.Context, devisID string, position int32) (Subtotal, error) {
	if err := s.ready(); err != nil {
		return Subtotal{}, err
	}
	sid, err := societeFromContext(ctx)
	if err != nil {
		return Subtotal{}, err
	}
	did, err := store.UUIDValue(devisID)
	if err != nil {
		return Subtotal{}, notFound("devis")
	}
	if _, err := s.Q.GetDevis(ctx, store.GetDevisParams{SocieteID: sid, ID: did}); err != nil {
		return Subtotal{}, mapStoreError(err, "devis")
	}
	lignes, err := s.Q.ListLignes(ctx, did)
	if err != nil {
		return Subtotal{}, err
	}
	positioned := make([]pricing.PositionedTotals, 0, len(lignes))
	for _, l := range lignes {
		if l.Kind != store.LigneKindProduit {
			continue
		}
		positioned = append(positioned, pricing.PositionedTotals{Position: l.Position, Totals: ligneTotals(l)})
	}
	sub := pricing.SubtotalUpTo(positioned, position)
	return Subtotal{
		HT:        sub.HT.StringFixed(2),
		TTC:       sub.TTC.StringFixed(2),
		Formatted: pricing.FormatEUR(sub.HT),
	}, nil
}

// recomputeTotals reaggregates product-line totals into the header row. It is
// the only mechanism keeping header totals consistent with the lignes, so
// every mutation calls it before committing.
func recomputeTotals(ctx context.Context, q Querier, devisID pgtype.UUID) (store.Devis, error) {
	defer obs.ObserveTotalsRecalc(time.Now())
	lignes, err := q.ListLignes(ctx, devisID)
	if err != nil {
		return store.Devis{}, err
	}
	lineTotals := make([]pricing.LineTotals, 0, len(lignes))
	for _, l := range lignes {
		if l.Kind != store.LigneKindProduit {
			continue
		}
		lineTotals = append(lineTotals, ligneTotals(l))
	}
	totals := pricing.Aggregate(lineTotals)
	header, err := q.UpdateDevisTotals(ctx, store.UpdateDevisTotalsParams{
		ID:       devisID,
		TotalHT:  store.NumericFromDecimal(totals.HT),
		TotalTVA: store.NumericFromDecimal(totals.TVA),
		TotalTTC: store.NumericFromDecimal(totals.TTC),
	})
	if err != nil {
		return store.Devis{}, err
	}
	return header, nil
}
