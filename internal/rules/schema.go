package rules

// ruleFileSchema validates the rules file before a snapshot is published. A
// file that fails validation never replaces the previous snapshot.
const ruleFileSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["users"],
  "properties": {
    "users": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["user_id", "rules"],
        "properties": {
          "user_id": {"type": "string", "minLength": 1},
          "credentials": {
            "type": "object",
            "properties": {
              "api_key": {"type": "string"},
              "api_secret": {"type": "string"}
            }
          },
          "rules": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["id", "type", "symbol"],
              "properties": {
                "id": {"type": "string", "minLength": 1},
                "type": {"enum": ["manual", "ai"]},
                "symbol": {"type": "string", "minLength": 1},
                "enabled": {"type": "boolean"},
                "budget_usdt": {"type": "number", "exclusiveMinimum": 0},
                "dip_pct": {"type": "number"},
                "entry_price": {"type": "number"},
                "tp_pct": {"type": "number"},
                "exit_price": {"type": "number"},
                "stop_loss_pct": {"type": "number", "minimum": 0},
                "trailing_stop_pct": {"type": "number", "minimum": 0},
                "take_profit_steps": {
                  "type": "array",
                  "items": {
                    "type": "object",
                    "required": ["profit_pct", "portion_pct"],
                    "properties": {
                      "id": {"type": "string"},
                      "profit_pct": {"type": "number"},
                      "portion_pct": {"type": "number", "exclusiveMinimum": 0, "maximum": 100},
                      "absolute_price": {"type": "number"}
                    }
                  }
                },
                "indicator_settings": {
                  "type": "object",
                  "properties": {
                    "interval": {"type": "string"},
                    "rsi_period": {"type": "integer", "minimum": 2},
                    "macd_fast": {"type": "integer", "minimum": 2},
                    "macd_slow": {"type": "integer", "minimum": 3},
                    "macd_signal": {"type": "integer", "minimum": 1},
                    "rsi_entry_max": {"type": "number", "minimum": 0, "maximum": 100},
                    "rsi_exit_min": {"type": "number", "minimum": 0, "maximum": 100},
                    "macd_entry": {"enum": ["bullish", "bearish"]},
                    "macd_exit": {"enum": ["bullish", "bearish"]}
                  }
                }
              }
            }
          }
        }
      }
    }
  }
}`
