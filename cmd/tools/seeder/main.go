// Seeds a development database: a demo societe, two comptes, the referentiel
// defaults and a handful of clients and produits. Idempotent, existing rows
// are left untouched.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/technoprod/backend-gestion/internal/auth"
	"github.com/technoprod/backend-gestion/internal/store"
)

const (
	demoSlug        = "demo"
	demoNom         = "Societe Demo"
	adminEmail      = "admin@demo.fr"
	commercialEmail = "commercial@demo.fr"
	demoPassword    = "motdepasse-demo"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping database: %v", err)
	}

	queries := store.New(pool)

	societe, err := ensureSociete(ctx, queries)
	if err != nil {
		log.Fatalf("ensure societe: %v", err)
	}
	log.Printf("societe %s (%s)", societe.Slug, store.UUIDString(societe.ID))

	if err := seedUsers(ctx, queries, societe.ID); err != nil {
		log.Fatalf("seed users: %v", err)
	}
	if err := seedReferentiel(ctx, queries, societe.ID); err != nil {
		log.Fatalf("seed referentiel: %v", err)
	}
	if err := seedClients(ctx, queries, societe.ID); err != nil {
		log.Fatalf("seed clients: %v", err)
	}
	if err := seedProduits(ctx, queries, societe.ID); err != nil {
		log.Fatalf("seed produits: %v", err)
	}

	log.Println("seeding completed")
}

func ensureSociete(ctx context.Context, q *store.Queries) (store.Societe, error) {
	societe, err := q.GetSocieteBySlug(ctx, demoSlug)
	if err == nil {
		return societe, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return store.Societe{}, err
	}
	return q.CreateSociete(ctx, store.CreateSocieteParams{
		ID:   store.NewUUID(),
		Slug: demoSlug,
		Nom:  demoNom,
	})
}

func seedUsers(ctx context.Context, q *store.Queries, societeID pgtype.UUID) error {
	accounts := []struct {
		email string
		nom   string
		role  string
	}{
		{adminEmail, "Administrateur Demo", auth.RoleAdmin},
		{commercialEmail, "Commercial Demo", auth.RoleUtilisateur},
	}
	for _, account := range accounts {
		_, err := q.GetUserByEmail(ctx, store.GetUserByEmailParams{SocieteID: societeID, Email: account.email})
		if err == nil {
			continue
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		hash, err := argon2id.CreateHash(demoPassword, argon2id.DefaultParams)
		if err != nil {
			return err
		}
		if _, err := q.CreateUser(ctx, store.CreateUserParams{
			ID:           store.NewUUID(),
			SocieteID:    societeID,
			Email:        account.email,
			PasswordHash: hash,
			Nom:          store.TextValue(account.nom),
			Role:         account.role,
		}); err != nil {
			return err
		}
		log.Printf("user %s (%s)", account.email, account.role)
	}
	return nil
}

func seedReferentiel(ctx context.Context, q *store.Queries, societeID pgtype.UUID) error {
	entries := []struct {
		kind    string
		code    string
		libelle string
		valeur  string
	}{
		{"tva", "normal", "TVA taux normal", "20"},
		{"tva", "intermediaire", "TVA taux intermédiaire", "10"},
		{"tva", "reduit", "TVA taux réduit", "5.5"},
		{"unite", "u", "Unité", ""},
		{"unite", "h", "Heure", ""},
		{"unite", "j", "Jour", ""},
		{"unite", "m2", "Mètre carré", ""},
		{"condition_reglement", "30j", "30 jours fin de mois", ""},
		{"condition_reglement", "comptant", "Comptant à réception", ""},
		{"mode_reglement", "virement", "Virement bancaire", ""},
		{"mode_reglement", "cheque", "Chèque", ""},
	}

	existing := map[string]bool{}
	for _, kind := range []string{"tva", "unite", "condition_reglement", "mode_reglement"} {
		rows, err := q.ListReferentielEntries(ctx, store.ListReferentielEntriesParams{SocieteID: societeID, Kind: kind})
		if err != nil {
			return err
		}
		for _, row := range rows {
			existing[row.Kind+"/"+row.Code] = true
		}
	}

	created := 0
	for _, entry := range entries {
		if existing[entry.kind+"/"+entry.code] {
			continue
		}
		if _, err := q.CreateReferentielEntry(ctx, store.CreateReferentielEntryParams{
			ID:        store.NewUUID(),
			SocieteID: societeID,
			Kind:      entry.kind,
			Code:      entry.code,
			Libelle:   entry.libelle,
			Valeur:    store.TextValue(entry.valeur),
		}); err != nil {
			return err
		}
		created++
	}
	log.Printf("referentiel: %d entries created", created)
	return nil
}

func seedClients(ctx context.Context, q *store.Queries, societeID pgtype.UUID) error {
	existing, err := q.CountClients(ctx, store.CountClientsParams{SocieteID: societeID})
	if err != nil {
		return err
	}
	if existing > 0 {
		log.Printf("clients: %d existing, skipping", existing)
		return nil
	}

	clients := []store.CreateClientParams{
		{
			Kind:          "professionnel",
			RaisonSociale: "Menuiserie Dupont SARL",
			ContactNom:    store.TextValue("Jean Dupont"),
			Email:         store.TextValue("contact@menuiserie-dupont.fr"),
			Telephone:     store.TextValue("+33 2 40 12 34 56"),
			Adresse:       store.TextValue("12 rue des Artisans"),
			CodePostal:    store.TextValue("44000"),
			Ville:         store.TextValue("Nantes"),
			Pays:          store.TextValue("France"),
		},
		{
			Kind:          "professionnel",
			RaisonSociale: "Batiment Plus SAS",
			ContactNom:    store.TextValue("Claire Martin"),
			Email:         store.TextValue("c.martin@batimentplus.fr"),
			CodePostal:    store.TextValue("69003"),
			Ville:         store.TextValue("Lyon"),
			Pays:          store.TextValue("France"),
		},
		{
			Kind:          "particulier",
			RaisonSociale: "Durand Michel",
			Email:         store.TextValue("michel.durand@exemple.fr"),
			CodePostal:    store.TextValue("33000"),
			Ville:         store.TextValue("Bordeaux"),
			Pays:          store.TextValue("France"),
		},
	}
	for _, params := range clients {
		params.ID = store.NewUUID()
		params.SocieteID = societeID
		if _, err := q.CreateClient(ctx, params); err != nil {
			return err
		}
	}
	log.Printf("clients: %d created", len(clients))
	return nil
}

func seedProduits(ctx context.Context, q *store.Queries, societeID pgtype.UUID) error {
	existing, err := q.CountProduits(ctx, store.CountProduitsParams{SocieteID: societeID})
	if err != nil {
		return err
	}
	if existing > 0 {
		log.Printf("produits: %d existing, skipping", existing)
		return nil
	}

	produits := []struct {
		reference   string
		designation string
		prix        string
		tva         string
		unite       string
	}{
		{"POSE-FEN", "Pose fenêtre PVC double vitrage", "450.00", "10", "u"},
		{"POSE-PORTE", "Pose porte d'entrée aluminium", "890.00", "10", "u"},
		{"MO-MENUI", "Main d'oeuvre menuiserie", "48.00", "20", "h"},
		{"DEPL-ZONE1", "Déplacement zone 1", "35.00", "20", "u"},
		{"PARQUET-CHENE", "Parquet chêne massif pose comprise", "85.00", "10", "m2"},
	}
	for _, p := range produits {
		prix, err := decimal.NewFromString(p.prix)
		if err != nil {
			return err
		}
		tva, err := decimal.NewFromString(p.tva)
		if err != nil {
			return err
		}
		if _, err := q.CreateProduit(ctx, store.CreateProduitParams{
			ID:           store.NewUUID(),
			SocieteID:    societeID,
			Reference:    p.reference,
			Designation:  p.designation,
			PrixUnitaire: store.NumericFromDecimal(prix),
			TauxTVA:      store.NumericFromDecimal(tva),
			Unite:        store.TextValue(p.unite),
		}); err != nil {
			return err
		}
	}
	log.Printf("produits: %d created", len(produits))
	return nil
}
