package avail

// VaccineProduct is a specific vaccine formulation: brand, age band and
// variant.
type VaccineProduct string

const (
	ProductAstraZeneca         VaccineProduct = "astra_zeneca"
	ProductJanssen             VaccineProduct = "jj"
	ProductModerna             VaccineProduct = "moderna"
	ProductModernaAge0_5       VaccineProduct = "moderna_age_0_5"
	ProductModernaAge6_11      VaccineProduct = "moderna_age_6_11"
	ProductModernaBa4Ba5       VaccineProduct = "moderna_ba4_ba5"
	ProductModernaBa4Ba5Age0_5 VaccineProduct = "moderna_ba4_ba5_age_0_5"
	ProductNovavax             VaccineProduct = "novavax"
	ProductPfizer              VaccineProduct = "pfizer"
	ProductPfizerAge0_4        VaccineProduct = "pfizer_age_0_4"
	ProductPfizerAge5_11       VaccineProduct = "pfizer_age_5_11"
	ProductPfizerBa4Ba5        VaccineProduct = "pfizer_ba4_ba5"
	ProductPfizerBa4Ba5Age5_11 VaccineProduct = "pfizer_ba4_ba5_age_5_11"
	ProductPfizerBa4Ba5Age0_4  VaccineProduct = "pfizer_ba4_ba5_age_0_4"
)

// ProductsByCvxCode maps CDC CVX codes to products.
// https://www2a.cdc.gov/vaccines/iis/iisstandards/vaccines.asp?rpt=cvx
var ProductsByCvxCode = map[string]VaccineProduct{
	"207": ProductModerna,
	"208": ProductPfizer,
	"210": ProductAstraZeneca,
	"211": ProductNovavax,
	"212": ProductJanssen,
	"217": ProductPfizer,
	"218": ProductPfizerAge5_11,
	"219": ProductPfizerAge0_4,
	"221": ProductModerna,
	"227": ProductModernaAge6_11,
	"228": ProductModernaAge0_5,
	"229": ProductModernaBa4Ba5,
	"230": ProductModernaBa4Ba5Age0_5,
	"300": ProductPfizerBa4Ba5,
	"301": ProductPfizerBa4Ba5Age5_11,
	"302": ProductPfizerBa4Ba5Age0_4,
}

// ProductSet is an insertion-ordered set of products.
type ProductSet struct {
	arr []VaccineProduct
}

func (ps ProductSet) Contains(product VaccineProduct) bool {
	for _, v := range ps.arr {
		if v == product {
			return true
		}
	}

	return false
}

func (ps ProductSet) Add(product VaccineProduct) ProductSet {
	if !ps.Contains(product) {
		ps.arr = append(ps.arr, product)
	}

	return ps
}

// ParseAndAdd adds the product matching a free-text vaccine name, if any.
func (ps ProductSet) ParseAndAdd(name string) (ProductSet, bool) {
	product, ok := MatchVaccineProduct(name)
	if !ok {
		return ps, false
	}
	return ps.Add(product), true
}

func (ps ProductSet) Merge(ps2 ProductSet) ProductSet {
	for _, product := range ps2.arr {
		ps = ps.Add(product)
	}

	return ps
}

func (ps ProductSet) Len() int {
	return len(ps.arr)
}

// Slice returns nil for an empty set so JSON output omits it.
func (ps ProductSet) Slice() []VaccineProduct {
	if len(ps.arr) == 0 {
		return nil
	}
	return append([]VaccineProduct(nil), ps.arr...)
}
