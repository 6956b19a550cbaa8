package textx_test

import (
	"strings"
	"testing"

	"github.com/gdp-tracker/gdp-backend/pkg/utilx/textx"
	"github.com/stretchr/testify/assert"
)

func TestASCIIFold(t *testing.T) {
	assert.Equal(t, "Lefevre", textx.ASCIIFold("Lefèvre"))
	assert.Equal(t, "FERME DES ETANGS", textx.ASCIIFold("FERME DES ÉTANGS"))
	assert.Equal(t, "Helene", textx.ASCIIFold("Hélène"))
}

func TestNorm(t *testing.T) {
	assert.Equal(t, textx.Norm("  Ferme des Étangs "), textx.Norm("FERME DES ETANGS"))
	assert.Equal(t, "paul roux", textx.Norm("Paul Roux"))
	assert.Empty(t, textx.Norm("   "))
}

func TestNormStatut(t *testing.T) {
	assert.Equal(t, "LIVREE", textx.NormStatut("Livrée"))
	assert.Equal(t, "EN PRODUCTION", textx.NormStatut(" en production "))
	assert.Empty(t, textx.NormStatut(""))
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "LES_P_TITS_MARAICHERS_A", textx.Slugify("LES P'TITS MARAICHERS A", 80))
	assert.Equal(t, "FERME_DES_ETANGS", textx.Slugify("FERME DES ÉTANGS", 80))
	assert.Equal(t, "INCONNU", textx.Slugify("", 80))
	assert.Equal(t, "INCONNU", textx.Slugify("...///", 80))
	assert.Equal(t, "a.b", textx.Slugify("_a.b-", 80))
	assert.Len(t, textx.Slugify(strings.Repeat("x", 120), 80), 80)
}
