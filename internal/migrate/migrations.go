package migrate

// Registered returns the product's chat migration registry.
//
// Positions in this list are a released, on-disk contract: new steps go at
// the end, existing steps are never edited, removed, or reordered. Every
// step must be idempotent because a crash between a step's record puts and
// the version-counter write re-applies it on the next load.
func Registered() *Registry {
	return NewRegistry(
		// Early records were created before chats grew tag support and
		// may lack the field entirely.
		Migration{
			Name: "add-tags-field",
			Apply: func(record map[string]any) (map[string]any, error) {
				if _, ok := record["tags"]; !ok {
					record["tags"] = []any{}
				}
				return record, nil
			},
		},
		// Chats used to embed the full model configuration object; only
		// the model identifier is kept now, the rest lives in the model
		// selection settings.
		Migration{
			Name: "flatten-model-to-id",
			Apply: func(record map[string]any) (map[string]any, error) {
				model, ok := record["model"].(map[string]any)
				if ok {
					if _, has := record["modelId"]; !has {
						if name, ok := model["name"].(string); ok {
							record["modelId"] = name
						} else {
							record["modelId"] = ""
						}
					}
					delete(record, "model")
				} else if _, has := record["modelId"]; !has {
					record["modelId"] = ""
				}
				return record, nil
			},
		},
	)
}
