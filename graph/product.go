package graph

import "github.com/medmatrix/console/types"

// Outcome labels used by the product pipeline.
const (
	OutcomeMatched   = "matched"
	OutcomeUnmatched = "unmatched"
	OutcomeApproved  = "approved"
	OutcomeRejected  = "rejected"
)

// DefaultProductGraph builds the fixed product-classification pipeline:
// classification fans out to a category-specific extractor, converges on
// validation and master-data matching, and either persists directly or
// detours through human review.
func DefaultProductGraph() *Graph {
	nodes := []Node{
		{ID: "classifier", Role: types.RoleClassifier, Label: "商品分类"},
		{ID: "drug_extractor", Role: types.RoleExtractor, Subtype: "drug", Label: "药品提取"},
		{ID: "device_extractor", Role: types.RoleExtractor, Subtype: "device", Label: "器械提取"},
		{ID: "cosmeceutical_extractor", Role: types.RoleExtractor, Subtype: "cosmeceutical", Label: "药妆提取"},
		{ID: "supplement_extractor", Role: types.RoleExtractor, Subtype: "supplement", Label: "保健品提取"},
		{ID: "tcm_extractor", Role: types.RoleExtractor, Subtype: "tcm", Label: "中药饮片提取"},
		{ID: "general_extractor", Role: types.RoleExtractor, Subtype: "general", Label: "普通商品提取"},
		{ID: "validator", Role: types.RoleValidator, Label: "数据验证"},
		{ID: "matcher", Role: types.RoleMatcher, Label: "主数据匹配"},
		{ID: "request_review", Role: types.RoleReviewGate, Label: "人工审核"},
		{ID: "save_product", Role: types.RoleTerminalSave, Label: "保存新商品"},
		{ID: "end", Role: types.RoleTerminalEnd, Label: "结束"},
	}
	edges := []Edge{
		{From: "classifier", To: "drug_extractor"},
		{From: "classifier", To: "device_extractor"},
		{From: "classifier", To: "cosmeceutical_extractor"},
		{From: "classifier", To: "supplement_extractor"},
		{From: "classifier", To: "tcm_extractor"},
		{From: "classifier", To: "general_extractor"},
		{From: "drug_extractor", To: "validator"},
		{From: "device_extractor", To: "validator"},
		{From: "cosmeceutical_extractor", To: "validator"},
		{From: "supplement_extractor", To: "validator"},
		{From: "tcm_extractor", To: "validator"},
		{From: "general_extractor", To: "validator"},
		{From: "validator", To: "matcher"},
		{From: "validator", To: "request_review"},
		{From: "matcher", To: "end", Outcome: OutcomeMatched},
		{From: "matcher", To: "request_review", Outcome: OutcomeUnmatched},
		{From: "request_review", To: "save_product", Outcome: OutcomeApproved},
		{From: "request_review", To: "end", Outcome: OutcomeRejected},
		{From: "save_product", To: "end"},
	}

	g, err := New(nodes, edges)
	if err != nil {
		// The fixed pipeline is validated by tests; a failure here is a
		// programming error.
		panic(err)
	}
	return g
}
